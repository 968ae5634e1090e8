package gate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diploma-bazar/api-gate/app/ratelimit"
)

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(""))
	require.NoError(t, err)

	assert.Equal(t, ratelimit.DefaultPolicy, cfg.DefaultPolicy)
	assert.Equal(t, ratelimit.DefaultEscalation, cfg.Escalation)

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)

	for _, p := range []string{"/", "/health", "/status", "/ping", "/favicon.ico"} {
		assert.Contains(t, cfg.SkipPaths, p, p)
	}

	assert.False(t, cfg.Security.APIKeys.Enabled)
	assert.False(t, cfg.Development.Bypass)
}

func TestParseConfigFull(t *testing.T) {
	doc := `
gate:
  skipPaths: ["/", "/ping"]
  security:
    requiredHeaders: ["X-Client-Version"]
    blockedUserAgents: ["(?i)curl"]
    allowedOrigins: ["https://app.example.com"]
    whitelist: ["10.0.0.1"]
    blacklist: ["203.0.113.66"]
    apiKey:
      enabled: true
      header: "x-service-key"
      minLength: 16
      requiredForAnonymous: true
      keys: ["0123456789abcdef"]
  cache:
    enabled: false
  limits:
    default:
      perMinute: 30
      perHour: 500
      perDay: 5000
    endpoints:
      /api/auth:
        perMinute: 5
        perHour: 30
        perDay: 100
  escalation:
    threshold: 3
  development:
    debugHeaders: true
`

	cfg, err := ParseConfig(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, map[string]struct{}{"/": {}, "/ping": {}}, cfg.SkipPaths)

	assert.Equal(t, []string{"X-Client-Version"}, cfg.Security.RequiredHeaders)
	assert.Equal(t, []string{"(?i)curl"}, cfg.Security.BlockedAgents)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.1"}, cfg.Security.Whitelist)
	assert.Equal(t, []string{"203.0.113.66"}, cfg.Security.Blacklist)

	assert.True(t, cfg.Security.APIKeys.Enabled)
	assert.Equal(t, "x-service-key", cfg.Security.APIKeys.Header)
	assert.Equal(t, 16, cfg.Security.APIKeys.MinLength)
	assert.True(t, cfg.Security.APIKeys.RequiredForAnonymous)

	assert.False(t, cfg.Cache.Enabled)

	assert.Equal(t, ratelimit.Policy{PerMinute: 30, PerHour: 500, PerDay: 5000}, cfg.DefaultPolicy)
	assert.Equal(t, ratelimit.Policy{PerMinute: 5, PerHour: 30, PerDay: 100}, cfg.EndpointPolicies["/api/auth"])

	assert.EqualValues(t, 3, cfg.Escalation.Threshold)
	assert.Equal(t, ratelimit.DefaultEscalation.BlockFor, cfg.Escalation.BlockFor)

	assert.False(t, cfg.Development.Bypass)
	assert.True(t, cfg.Development.DebugHeaders)
}

func TestParseConfigAPIKeyDefaults(t *testing.T) {
	doc := `
gate:
  security:
    apiKey:
      enabled: true
      keys: ["0123456789abcdef0123456789abcdef"]
`

	cfg, err := ParseConfig(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Security.APIKeys.MinLength)
	assert.False(t, cfg.Security.APIKeys.RequiredForAnonymous)
}

func TestParseConfigInvalid(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want error
	}{
		{
			"zero cache size",
			"gate:\n  cache:\n    maxEntries: 0\n",
			ErrInvalidCacheSize,
		},
		{
			"sweep chance above one",
			"gate:\n  cache:\n    sweepChance: 1.5\n",
			ErrInvalidSweepChance,
		},
		{
			"non-positive default policy",
			"gate:\n  limits:\n    default:\n      perMinute: 0\n      perHour: 10\n      perDay: 10\n",
			ErrInvalidPolicy,
		},
		{
			"non-positive endpoint policy",
			"gate:\n  limits:\n    endpoints:\n      /api/auth:\n        perMinute: 5\n        perHour: -1\n        perDay: 10\n",
			ErrInvalidPolicy,
		},
		{
			"zero escalation threshold",
			"gate:\n  escalation:\n    threshold: 0\n",
			ErrInvalidEscalation,
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(c.doc))
			assert.ErrorIs(t, err, c.want)
		})
	}
}

func TestParseConfigDisabledCacheSkipsCacheValidation(t *testing.T) {
	doc := "gate:\n  cache:\n    enabled: false\n    maxEntries: 0\n"

	_, err := ParseConfig(strings.NewReader(doc))
	assert.NoError(t, err)
}

func TestParseConfigNormalizesSkipPaths(t *testing.T) {
	doc := "gate:\n  skipPaths: [\"/health/\", \"/api/v1/ping\"]\n"

	cfg, err := ParseConfig(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Contains(t, cfg.SkipPaths, "/health")
	assert.Contains(t, cfg.SkipPaths, "/api/ping")
}
