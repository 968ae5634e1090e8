package gate

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diploma-bazar/api-gate/app/identity"
	"github.com/diploma-bazar/api-gate/app/ratelimit"
)

type (
	errorInfo struct {
		Status  int    `json:"status"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	rejectionBody struct {
		Error     errorInfo `json:"error"`
		Details   string    `json:"details"`
		Timestamp time.Time `json:"timestamp"`
	}

	exceededBody struct {
		Error      errorInfo            `json:"error"`
		Details    string               `json:"details"`
		Limits     ratelimit.Policy     `json:"limits"`
		Current    ratelimit.Usage      `json:"current"`
		ResetTimes ratelimit.ResetTimes `json:"reset_times"`
		RetryAfter int                  `json:"retry_after"`
		Timestamp  time.Time            `json:"timestamp"`
	}

	blockedBody struct {
		Error      errorInfo `json:"error"`
		Details    string    `json:"details"`
		RetryAfter int       `json:"retry_after"`
		Timestamp  time.Time `json:"timestamp"`
	}
)

var (
	errTooManyRequests = errorInfo{
		Status:  http.StatusTooManyRequests,
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "Too many requests. Please try again later.",
	}

	errBlocked = errorInfo{
		Status:  http.StatusForbidden,
		Code:    identity.CodeBlocked,
		Message: "Access temporarily blocked due to suspicious activity.",
	}
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func writeRejection(w http.ResponseWriter, rej *identity.Rejection) {
	writeJSON(w, rej.Status, rejectionBody{
		Error: errorInfo{
			Status:  rej.Status,
			Code:    rej.Code,
			Message: rej.Message,
		},
		Details:   rej.Details,
		Timestamp: time.Now().UTC(),
	})
}

// setRateLimitHeaders writes the informational three-window headers.
// For allowed responses the current request is already counted against
// the remaining budget.
func setRateLimitHeaders(h http.Header, d ratelimit.Decision, countCurrent bool) {
	extra := 0
	if countCurrent {
		extra = 1
	}

	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limits.PerMinute))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining(d.Limits.PerMinute, d.Current.Minute+extra)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTimes.Minute.Unix(), 10))

	h.Set("X-RateLimit-Limit-Hour", strconv.Itoa(d.Limits.PerHour))
	h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(remaining(d.Limits.PerHour, d.Current.Hour+extra)))
	h.Set("X-RateLimit-Reset-Hour", strconv.FormatInt(d.ResetTimes.Hour.Unix(), 10))

	h.Set("X-RateLimit-Limit-Day", strconv.Itoa(d.Limits.PerDay))
	h.Set("X-RateLimit-Remaining-Day", strconv.Itoa(remaining(d.Limits.PerDay, d.Current.Day+extra)))
	h.Set("X-RateLimit-Reset-Day", strconv.FormatInt(d.ResetTimes.Day.Unix(), 10))
}

func writeExceeded(w http.ResponseWriter, d ratelimit.Decision) {
	var (
		now   = time.Now().UTC()
		retry = d.RetryAfter(now)
	)

	setRateLimitHeaders(w.Header(), d, false)
	w.Header().Set("Retry-After", strconv.Itoa(retry))

	writeJSON(w, http.StatusTooManyRequests, exceededBody{
		Error:      errTooManyRequests,
		Details:    "Rate limit exceeded for " + windowLabel(d.ExceededWindow()),
		Limits:     d.Limits,
		Current:    d.Current,
		ResetTimes: d.ResetTimes,
		RetryAfter: retry,
		Timestamp:  now,
	})
}

func writeBlocked(w http.ResponseWriter, d ratelimit.Decision) {
	var (
		now   = time.Now().UTC()
		retry = d.RetryAfter(now)
		until = now
	)

	if d.BlockedUntil != nil {
		until = *d.BlockedUntil
	}

	w.Header().Set("X-RateLimit-Blocked", "true")
	w.Header().Set("X-RateLimit-Block-Until", until.Format(time.RFC3339))
	w.Header().Set("Retry-After", strconv.Itoa(retry))

	writeJSON(w, http.StatusForbidden, blockedBody{
		Error:      errBlocked,
		Details:    "Access temporarily blocked until " + until.Format(time.RFC3339),
		RetryAfter: retry,
		Timestamp:  now,
	})
}

func remaining(limit, current int) int {
	if r := limit - current; r > 0 {
		return r
	}

	return 0
}

func windowLabel(w ratelimit.Window) string {
	return strings.ReplaceAll(w.String(), "_", " ")
}
