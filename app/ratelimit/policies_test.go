package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoliciesResolve(t *testing.T) {
	var (
		fallback = Policy{PerMinute: 50, PerHour: 2000, PerDay: 10000}
		auth     = Policy{PerMinute: 5, PerHour: 30, PerDay: 100}
		search   = Policy{PerMinute: 20, PerHour: 500, PerDay: 2000}
	)

	p := NewPolicies(fallback, map[string]Policy{
		"/api/auth/login": auth,
		"/api/search":     search,
	})

	cases := []struct {
		name     string
		endpoint string
		want     Policy
	}{
		{"exact match", "/api/auth/login", auth},
		{"prefix match", "/api/search/books", search},
		{"deep prefix match", "/api/search/books/123/reviews", search},
		{"fallback", "/api/books", fallback},
		{"root", "/", fallback},
		{"sibling does not match", "/api/auth", fallback},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, p.Resolve(c.endpoint))
		})
	}
}

func TestPoliciesNormalizeOverrideKeys(t *testing.T) {
	limited := Policy{PerMinute: 1, PerHour: 2, PerDay: 3}

	p := NewPolicies(DefaultPolicy, map[string]Policy{
		"/api/v1/orders/": limited,
	})

	assert.Equal(t, limited, p.Resolve("/api/orders"))
}
