package ratelimit

import (
	"strings"

	"github.com/dghubble/trie"
)

// Policies resolves the policy for a normalized endpoint: exact match
// first, then the longest configured path prefix, else the fallback.
type Policies struct {
	fallback  Policy
	overrides *trie.PathTrie
}

func NewPolicies(fallback Policy, overrides map[string]Policy) *Policies {
	t := trie.NewPathTrie()

	for endpoint, policy := range overrides {
		policy := policy
		t.Put(NormalizeEndpoint(endpoint), &policy)
	}

	return &Policies{fallback: fallback, overrides: t}
}

func (p *Policies) Resolve(endpoint string) Policy {
	for s := endpoint; s != "" && s != "/"; {
		if v, ok := p.overrides.Get(s).(*Policy); ok {
			return *v
		}

		i := strings.LastIndexByte(s, '/')
		if i <= 0 {
			break
		}

		s = s[:i]
	}

	return p.fallback
}
