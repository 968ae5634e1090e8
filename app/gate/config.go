package gate

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/diploma-bazar/api-gate/app/identity"
	"github.com/diploma-bazar/api-gate/app/ratelimit"
)

type (
	// Config is the validated runtime configuration of the gate.
	Config struct {
		SkipPaths        map[string]struct{}
		Security         identity.Config
		Cache            CacheConfig
		DefaultPolicy    ratelimit.Policy
		EndpointPolicies map[string]ratelimit.Policy
		Escalation       ratelimit.Escalation
		Development      DevelopmentConfig
	}

	CacheConfig struct {
		Enabled     bool
		TTL         time.Duration
		MaxEntries  int
		SweepChance float64
	}

	DevelopmentConfig struct {
		Bypass       bool
		DebugHeaders bool
	}

	configFile struct {
		Gate configGate `yaml:"gate"`
	}

	configGate struct {
		SkipPaths   *[]string          `yaml:"skipPaths,flow"`
		Security    configSecurity     `yaml:"security"`
		Cache       *configCache       `yaml:"cache"`
		Limits      configLimits       `yaml:"limits"`
		Escalation  *configEscalation  `yaml:"escalation"`
		Development *configDevelopment `yaml:"development"`
	}

	configSecurity struct {
		RequiredHeaders   []string      `yaml:"requiredHeaders,flow"`
		BlockedUserAgents []string      `yaml:"blockedUserAgents,flow"`
		AllowedOrigins    []string      `yaml:"allowedOrigins,flow"`
		Whitelist         []string      `yaml:"whitelist,flow"`
		Blacklist         []string      `yaml:"blacklist,flow"`
		APIKey            *configAPIKey `yaml:"apiKey"`
	}

	configAPIKey struct {
		Enabled              *bool    `yaml:"enabled"`
		Header               *string  `yaml:"header"`
		QueryParam           *string  `yaml:"queryParam"`
		MinLength            *int     `yaml:"minLength"`
		RequiredForAnonymous *bool    `yaml:"requiredForAnonymous"`
		Keys                 []string `yaml:"keys,flow"`
	}

	configCache struct {
		Enabled     *bool          `yaml:"enabled"`
		TTL         *time.Duration `yaml:"ttl"`
		MaxEntries  *int           `yaml:"maxEntries"`
		SweepChance *float64       `yaml:"sweepChance"`
	}

	configLimits struct {
		Default   *ratelimit.Policy           `yaml:"default"`
		Endpoints map[string]ratelimit.Policy `yaml:"endpoints"`
	}

	configEscalation struct {
		Threshold *int64         `yaml:"threshold"`
		BlockFor  *time.Duration `yaml:"blockFor"`
	}

	configDevelopment struct {
		Bypass       *bool `yaml:"bypass"`
		DebugHeaders *bool `yaml:"debugHeaders"`
	}
)

const (
	defaultCacheTTL        = time.Minute
	defaultCacheMaxEntries = 10000
	defaultAPIKeyMinLength = 32
)

var defaultSkipPaths = []string{"/", "/health", "/status", "/ping", "/favicon.ico"}

var (
	ErrInvalidCacheSize   = errors.New("cache maxEntries must be positive")
	ErrInvalidPolicy      = errors.New("policy thresholds must be positive")
	ErrInvalidEscalation  = errors.New("escalation threshold must be positive")
	ErrInvalidSweepChance = errors.New("cache sweepChance must be within (0, 1]")
)

// ParseConfig decodes the YAML gate configuration, applying defaults
// for everything left unset.
func ParseConfig(configDataSource io.Reader) (*Config, error) {
	var f configFile

	if err := yaml.NewDecoder(configDataSource).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode config data: %w", err)
	}

	g := &f.Gate

	c := &Config{
		SkipPaths: make(map[string]struct{}),
		Security: identity.Config{
			RequiredHeaders: g.Security.RequiredHeaders,
			BlockedAgents:   g.Security.BlockedUserAgents,
			AllowedOrigins:  g.Security.AllowedOrigins,
			Whitelist:       g.Security.Whitelist,
			Blacklist:       g.Security.Blacklist,
		},
		Cache: CacheConfig{
			Enabled:     true,
			TTL:         defaultCacheTTL,
			MaxEntries:  defaultCacheMaxEntries,
			SweepChance: ratelimit.DefaultSweepChance,
		},
		DefaultPolicy:    ratelimit.DefaultPolicy,
		EndpointPolicies: g.Limits.Endpoints,
		Escalation:       ratelimit.DefaultEscalation,
	}

	skip := defaultSkipPaths
	if g.SkipPaths != nil {
		skip = *g.SkipPaths
	}

	for _, p := range skip {
		c.SkipPaths[ratelimit.NormalizeEndpoint(p)] = struct{}{}
	}

	if k := g.Security.APIKey; k != nil {
		c.Security.APIKeys = identity.APIKeyConfig{
			MinLength: defaultAPIKeyMinLength,
			Keys:      k.Keys,
		}

		if k.Enabled != nil {
			c.Security.APIKeys.Enabled = *k.Enabled
		}

		if k.Header != nil {
			c.Security.APIKeys.Header = *k.Header
		}

		if k.QueryParam != nil {
			c.Security.APIKeys.QueryParam = *k.QueryParam
		}

		if k.MinLength != nil {
			c.Security.APIKeys.MinLength = *k.MinLength
		}

		if k.RequiredForAnonymous != nil {
			c.Security.APIKeys.RequiredForAnonymous = *k.RequiredForAnonymous
		}
	}

	if ca := g.Cache; ca != nil {
		if ca.Enabled != nil {
			c.Cache.Enabled = *ca.Enabled
		}

		if ca.TTL != nil {
			c.Cache.TTL = *ca.TTL
		}

		if ca.MaxEntries != nil {
			c.Cache.MaxEntries = *ca.MaxEntries
		}

		if ca.SweepChance != nil {
			c.Cache.SweepChance = *ca.SweepChance
		}
	}

	if g.Limits.Default != nil {
		c.DefaultPolicy = *g.Limits.Default
	}

	if e := g.Escalation; e != nil {
		if e.Threshold != nil {
			c.Escalation.Threshold = *e.Threshold
		}

		if e.BlockFor != nil {
			c.Escalation.BlockFor = *e.BlockFor
		}
	}

	if d := g.Development; d != nil {
		if d.Bypass != nil {
			c.Development.Bypass = *d.Bypass
		}

		if d.DebugHeaders != nil {
			c.Development.DebugHeaders = *d.DebugHeaders
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) validate() error {
	if c.Cache.Enabled {
		if c.Cache.MaxEntries <= 0 {
			return ErrInvalidCacheSize
		}

		if c.Cache.SweepChance <= 0 || c.Cache.SweepChance > 1 {
			return ErrInvalidSweepChance
		}
	}

	if err := validatePolicy(c.DefaultPolicy); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}

	for endpoint, p := range c.EndpointPolicies {
		if err := validatePolicy(p); err != nil {
			return fmt.Errorf("policy for %q: %w", endpoint, err)
		}
	}

	if c.Escalation.Threshold <= 0 || c.Escalation.BlockFor <= 0 {
		return ErrInvalidEscalation
	}

	return nil
}

func validatePolicy(p ratelimit.Policy) error {
	if p.PerMinute <= 0 || p.PerHour <= 0 || p.PerDay <= 0 {
		return ErrInvalidPolicy
	}

	return nil
}
