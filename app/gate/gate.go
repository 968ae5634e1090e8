// Package gate assembles the API gating layer: security resolution,
// rate limit evaluation, violation auditing and response composition in
// front of every protected route.
package gate

import (
	"net/http"
	"strconv"

	"github.com/diploma-bazar/api-gate/app/identity"
	"github.com/diploma-bazar/api-gate/app/ratelimit"
)

type Gate struct {
	resolver     *identity.Resolver
	evaluator    *ratelimit.Evaluator
	violations   *ratelimit.ViolationLogger
	skip         map[string]struct{}
	bypass       bool
	debugHeaders bool
}

func New(
	resolver *identity.Resolver,
	evaluator *ratelimit.Evaluator,
	violations *ratelimit.ViolationLogger,
	cfg *Config,
) *Gate {
	return &Gate{
		resolver:     resolver,
		evaluator:    evaluator,
		violations:   violations,
		skip:         cfg.SkipPaths,
		bypass:       cfg.Development.Bypass,
		debugHeaders: cfg.Development.DebugHeaders,
	}
}

// Middleware runs the full gating pipeline before handing the request
// to next. Security rejections short-circuit before the evaluator runs;
// store failures fail open.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := ratelimit.NormalizeEndpoint(r.URL.Path)

		if _, ok := g.skip[endpoint]; ok {
			next.ServeHTTP(w, r)
			return
		}

		ident, rej := g.resolver.Resolve(r)
		if rej != nil {
			writeRejection(w, rej)
			return
		}

		if g.bypass || ident.Whitelisted {
			next.ServeHTTP(w, r)
			return
		}

		d := g.evaluator.Evaluate(r.Context(), ident.Identifier, ratelimit.IdentifierType(ident.Kind), r.URL.Path, r.Method)

		if d.Blocked {
			go g.logViolation(r, ident, endpoint, d)
			writeBlocked(w, d)

			return
		}

		if !d.Allowed {
			go g.logViolation(r, ident, endpoint, d)
			writeExceeded(w, d)

			return
		}

		g.evaluator.Record(r.Context(), ident.Identifier, ratelimit.IdentifierType(ident.Kind), r.URL.Path, r.Method)

		setRateLimitHeaders(w.Header(), d, true)

		if g.debugHeaders {
			h := w.Header()
			h.Set("X-Debug-Identifier", string(ident.Kind)+":"+ident.Identifier)
			h.Set("X-Debug-Endpoint", endpoint)
			h.Set("X-Debug-Method", r.Method)
			h.Set("X-Debug-Cache-Hit", strconv.FormatBool(d.CacheHit))
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Gate) logViolation(r *http.Request, ident identity.Identity, endpoint string, d ratelimit.Decision) {
	if g.violations == nil {
		return
	}

	var (
		window = d.ExceededWindow()
		count  int
	)

	switch window {
	case ratelimit.WindowMinute:
		count = d.Current.Minute
	case ratelimit.WindowHour:
		count = d.Current.Hour
	case ratelimit.WindowDay:
		count = d.Current.Day
	}

	g.violations.Log(ratelimit.Violation{
		Identifier:   ident.Identifier,
		Type:         ratelimit.IdentifierType(ident.Kind),
		Endpoint:     endpoint,
		Method:       r.Method,
		Count:        count,
		Window:       window,
		UserAgent:    r.UserAgent(),
		Origin:       r.Header.Get("Origin"),
		Referer:      r.Header.Get("Referer"),
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
	})
}
