package gate

import (
	"net/http"
	"time"

	"github.com/diploma-bazar/api-gate/app/ratelimit"
)

type statusBody struct {
	Identifier   string               `json:"identifier"`
	Limits       ratelimit.Policy     `json:"limits"`
	Current      ratelimit.Usage      `json:"current"`
	ResetTimes   ratelimit.ResetTimes `json:"reset_times"`
	Blocked      bool                 `json:"blocked"`
	BlockedUntil *time.Time           `json:"blocked_until,omitempty"`
	Degraded     bool                 `json:"degraded,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// StatusHandler reports the caller's current standing without recording
// a request against the counters.
func (g *Gate) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, rej := g.resolver.Resolve(r)
		if rej != nil {
			writeRejection(w, rej)
			return
		}

		d := g.evaluator.Evaluate(r.Context(), ident.Identifier, ratelimit.IdentifierType(ident.Kind), "*", "ALL")

		writeJSON(w, http.StatusOK, statusBody{
			Identifier:   string(ident.Kind) + ":" + ident.Identifier,
			Limits:       d.Limits,
			Current:      d.Current,
			ResetTimes:   d.ResetTimes,
			Blocked:      d.Blocked,
			BlockedUntil: d.BlockedUntil,
			Degraded:     d.Degraded,
			Timestamp:    time.Now().UTC(),
		})
	})
}
