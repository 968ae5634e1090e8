package ratelimit

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Evaluator turns one inbound request into an allow/deny/block decision.
// Store failures never escape: they are coerced into degraded allow
// decisions carrying the compiled-in default policy.
type Evaluator struct {
	store    Store
	policies *Policies
	cache    *Cache
	timeout  time.Duration
}

const DefaultStoreTimeout = 2 * time.Second

// NewEvaluator builds an evaluator. The cache may be nil to disable
// decision caching.
func NewEvaluator(store Store, policies *Policies, cache *Cache, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}

	return &Evaluator{
		store:    store,
		policies: policies,
		cache:    cache,
		timeout:  timeout,
	}
}

// Evaluate resolves the policy for the normalized endpoint and consults
// the cache, then the store. A cached decision is returned as-is, so
// counts shown to the client may lag by up to the cache TTL.
func (e *Evaluator) Evaluate(ctx context.Context, identifier string, t IdentifierType, endpoint, method string) Decision {
	k := e.key(identifier, t, endpoint, method)
	policy := e.policies.Resolve(k.Endpoint)

	if e.cache != nil {
		if d, ok := e.cache.Get(k.String()); ok {
			d.CacheHit = true
			return d
		}
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	d, err := e.store.Check(cctx, k, policy)
	if err != nil {
		log.WithFields(log.Fields{
			"identifier": k.Identifier,
			"type":       k.Type,
			"endpoint":   k.Endpoint,
			"method":     k.Method,
			"error":      err,
		}).Warn("rate limit check failed, allowing request")

		return degradedDecision(err)
	}

	if e.cache != nil {
		e.cache.Set(k.String(), d)
	}

	return d
}

// Record accounts one allowed request against the counters. Failures
// only cost accuracy, so they are logged and swallowed.
func (e *Evaluator) Record(ctx context.Context, identifier string, t IdentifierType, endpoint, method string) {
	k := e.key(identifier, t, endpoint, method)

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.store.Record(cctx, k); err != nil {
		log.WithFields(log.Fields{
			"identifier": k.Identifier,
			"type":       k.Type,
			"endpoint":   k.Endpoint,
			"method":     k.Method,
			"error":      err,
		}).Warn("failed to record request")
	}
}

func (e *Evaluator) key(identifier string, t IdentifierType, endpoint, method string) Key {
	return Key{
		Identifier: identifier,
		Type:       t,
		Endpoint:   NormalizeEndpoint(endpoint),
		Method:     strings.ToUpper(method),
	}
}

func degradedDecision(cause error) Decision {
	now := time.Now().UTC()

	reason := "store unavailable"
	if cause != nil {
		reason = cause.Error()
	}

	return Decision{
		Allowed:        true,
		Degraded:       true,
		DegradedReason: reason,
		Limits:         DefaultPolicy,
		ResetTimes: ResetTimes{
			Minute: now.Add(time.Minute),
			Hour:   now.Add(time.Hour),
			Day:    now.Add(24 * time.Hour),
		},
	}
}
