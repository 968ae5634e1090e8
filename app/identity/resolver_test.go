package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifier struct {
	userID string
	err    error
}

func (v staticVerifier) Verify(context.Context, string) (string, error) {
	return v.userID, v.err
}

func newRequest(ip string) *http.Request {
	r := httptest.NewRequest("GET", "/api/books", nil)
	r.Header.Set("X-Forwarded-For", ip)
	r.Header.Set("User-Agent", "Mozilla/5.0")

	return r
}

func TestResolveAnonymous(t *testing.T) {
	s, err := NewResolver(Config{}, nil)
	require.NoError(t, err)

	id, rej := s.Resolve(newRequest("203.0.113.7"))
	require.Nil(t, rej)

	assert.Equal(t, "203.0.113.7", id.Identifier)
	assert.Equal(t, KindIP, id.Kind)
	assert.False(t, id.Authenticated)
	assert.False(t, id.Whitelisted)
}

func TestResolveBlacklisted(t *testing.T) {
	s, err := NewResolver(Config{Blacklist: []string{"203.0.113.7"}}, nil)
	require.NoError(t, err)

	_, rej := s.Resolve(newRequest("203.0.113.7"))
	require.NotNil(t, rej)

	assert.Equal(t, http.StatusForbidden, rej.Status)
	assert.Equal(t, CodeBlocked, rej.Code)
	assert.Equal(t, "IP address is blocked", rej.Details)
}

func TestResolveWhitelistedSkipsChecks(t *testing.T) {
	s, err := NewResolver(Config{
		Whitelist:       []string{"203.0.113.7"},
		BlockedAgents:   []string{"curl"},
		RequiredHeaders: []string{"X-Client-Version"},
		APIKeys:         APIKeyConfig{Enabled: true, MinLength: 8},
	}, nil)
	require.NoError(t, err)

	r := newRequest("203.0.113.7")
	r.Header.Set("User-Agent", "curl/8.0")

	id, rej := s.Resolve(r)
	require.Nil(t, rej)

	assert.True(t, id.Whitelisted)
	assert.True(t, id.APIKeyValid)
}

func TestResolveWhitelistStillResolvesCredentials(t *testing.T) {
	s, err := NewResolver(Config{Whitelist: []string{"203.0.113.7"}}, staticVerifier{userID: "user-42"})
	require.NoError(t, err)

	r := newRequest("203.0.113.7")
	r.Header.Set("Authorization", "Bearer some.jwt.token")

	id, rej := s.Resolve(r)
	require.Nil(t, rej)

	assert.True(t, id.Authenticated)
	assert.Equal(t, "user-42", id.Identifier)
	assert.Equal(t, KindUser, id.Kind)
}

func TestResolveBlockedUserAgent(t *testing.T) {
	s, err := NewResolver(Config{BlockedAgents: []string{`(?i)curl`, `python-requests`}}, nil)
	require.NoError(t, err)

	cases := []struct {
		name    string
		agent   string
		blocked bool
	}{
		{"browser passes", "Mozilla/5.0", false},
		{"curl blocked", "Curl/8.0.1", true},
		{"scripted client blocked", "python-requests/2.31", true},
		{"missing agent blocked", "", true},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			r := newRequest("203.0.113.7")
			r.Header.Set("User-Agent", c.agent)

			_, rej := s.Resolve(r)

			if !c.blocked {
				assert.Nil(t, rej)
				return
			}

			require.NotNil(t, rej)
			assert.Equal(t, http.StatusForbidden, rej.Status)
			assert.Equal(t, "User agent not allowed", rej.Details)
		})
	}
}

func TestResolveMissingAgentPassesWithoutPatterns(t *testing.T) {
	s, err := NewResolver(Config{}, nil)
	require.NoError(t, err)

	r := newRequest("203.0.113.7")
	r.Header.Del("User-Agent")

	_, rej := s.Resolve(r)
	assert.Nil(t, rej)
}

func TestResolveBadAgentPattern(t *testing.T) {
	_, err := NewResolver(Config{BlockedAgents: []string{"("}}, nil)
	assert.Error(t, err)
}

func TestResolveOrigin(t *testing.T) {
	s, err := NewResolver(Config{AllowedOrigins: []string{"https://app.example.com"}}, nil)
	require.NoError(t, err)

	cases := []struct {
		name     string
		origin   string
		rejected bool
	}{
		{"listed origin passes", "https://app.example.com", false},
		{"absent origin passes", "", false},
		{"unlisted origin rejected", "https://evil.example.com", true},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			r := newRequest("203.0.113.7")

			if c.origin != "" {
				r.Header.Set("Origin", c.origin)
			}

			_, rej := s.Resolve(r)

			if !c.rejected {
				assert.Nil(t, rej)
				return
			}

			require.NotNil(t, rej)
			assert.Equal(t, "Origin not allowed", rej.Details)
		})
	}
}

func TestResolveOriginWildcard(t *testing.T) {
	s, err := NewResolver(Config{AllowedOrigins: []string{"*"}}, nil)
	require.NoError(t, err)

	r := newRequest("203.0.113.7")
	r.Header.Set("Origin", "https://anything.example.com")

	_, rej := s.Resolve(r)
	assert.Nil(t, rej)
}

func TestResolveRequiredHeaders(t *testing.T) {
	s, err := NewResolver(Config{RequiredHeaders: []string{"X-Client-Version", "X-Request-ID"}}, nil)
	require.NoError(t, err)

	r := newRequest("203.0.113.7")
	r.Header.Set("X-Client-Version", "1.2.3")

	_, rej := s.Resolve(r)
	require.NotNil(t, rej)

	assert.Equal(t, http.StatusBadRequest, rej.Status)
	assert.Equal(t, CodeInvalidRequest, rej.Code)
	assert.Equal(t, "Missing required headers: X-Request-ID", rej.Details)

	r.Header.Set("X-Request-ID", "abc")

	_, rej = s.Resolve(r)
	assert.Nil(t, rej)
}

func TestResolveAPIKey(t *testing.T) {
	s, err := NewResolver(Config{APIKeys: APIKeyConfig{
		Enabled:   true,
		MinLength: 8,
		Keys:      []string{"valid-key-0001"},
	}}, nil)
	require.NoError(t, err)

	cases := []struct {
		name    string
		key     string
		status  int
		details string
	}{
		{"missing key", "", http.StatusUnauthorized, "API key required"},
		{"short key", "short", http.StatusForbidden, "Invalid API key format"},
		{"unknown key", "unknown-key-01", http.StatusForbidden, "Invalid API key"},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			r := newRequest("203.0.113.7")

			if c.key != "" {
				r.Header.Set("x-api-key", c.key)
			}

			_, rej := s.Resolve(r)
			require.NotNil(t, rej)

			assert.Equal(t, c.status, rej.Status)
			assert.Equal(t, c.details, rej.Details)
		})
	}

	t.Run("valid key in header", func(t *testing.T) {
		r := newRequest("203.0.113.7")
		r.Header.Set("x-api-key", "valid-key-0001")

		id, rej := s.Resolve(r)
		require.Nil(t, rej)
		assert.True(t, id.APIKeyValid)
	})

	t.Run("valid key in query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/books?api_key=valid-key-0001", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
		r.Header.Set("User-Agent", "Mozilla/5.0")

		id, rej := s.Resolve(r)
		require.Nil(t, rej)
		assert.True(t, id.APIKeyValid)
	})
}

func TestResolveAnonymousRequiresCredentials(t *testing.T) {
	s, err := NewResolver(Config{APIKeys: APIKeyConfig{
		RequiredForAnonymous: true,
	}}, staticVerifier{err: errors.New("bad token")})
	require.NoError(t, err)

	_, rej := s.Resolve(newRequest("203.0.113.7"))
	require.NotNil(t, rej)

	assert.Equal(t, http.StatusUnauthorized, rej.Status)
	assert.Equal(t, CodeUnauthorized, rej.Code)
}

func TestResolveAuthenticatedIdentity(t *testing.T) {
	s, err := NewResolver(Config{}, staticVerifier{userID: "user-42"})
	require.NoError(t, err)

	r := newRequest("203.0.113.7")
	r.Header.Set("Authorization", "Bearer some.jwt.token")

	id, rej := s.Resolve(r)
	require.Nil(t, rej)

	assert.True(t, id.Authenticated)
	assert.Equal(t, "user-42", id.Identifier)
	assert.Equal(t, KindUser, id.Kind)
	assert.Equal(t, "203.0.113.7", id.IP)
}

func TestResolveInvalidTokenStaysAnonymous(t *testing.T) {
	s, err := NewResolver(Config{}, staticVerifier{err: errors.New("expired")})
	require.NoError(t, err)

	r := newRequest("203.0.113.7")
	r.Header.Set("Authorization", "Bearer expired.jwt.token")

	id, rej := s.Resolve(r)
	require.Nil(t, rej)

	assert.False(t, id.Authenticated)
	assert.Equal(t, "203.0.113.7", id.Identifier)
	assert.Equal(t, KindIP, id.Kind)
}
