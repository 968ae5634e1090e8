// Package ratelimit implements the multi-window rate limit evaluator:
// policy resolution, decision caching and the persistent counter store
// contract with its redis and in-memory implementations.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

type (
	IdentifierType string

	// Key addresses one counter bucket in the store.
	Key struct {
		Identifier string
		Type       IdentifierType
		Endpoint   string
		Method     string
	}

	// Policy holds the three window thresholds for one endpoint.
	Policy struct {
		PerMinute int `json:"per_minute" yaml:"perMinute"`
		PerHour   int `json:"per_hour" yaml:"perHour"`
		PerDay    int `json:"per_day" yaml:"perDay"`
	}

	Usage struct {
		Minute int `json:"minute"`
		Hour   int `json:"hour"`
		Day    int `json:"day"`
	}

	ResetTimes struct {
		Minute time.Time `json:"minute_reset"`
		Hour   time.Time `json:"hour_reset"`
		Day    time.Time `json:"day_reset"`
	}

	Window uint8

	// Decision is an immutable snapshot produced by one store check.
	// CacheHit marks decisions served from the evaluator cache instead
	// of the store.
	Decision struct {
		Allowed        bool
		Blocked        bool
		Degraded       bool
		DegradedReason string
		Current        Usage
		Limits         Policy
		ResetTimes     ResetTimes
		BlockedUntil   *time.Time
		CacheHit       bool
	}

	// Violation is the audit record written when a deny decision is produced.
	Violation struct {
		ID           string         `json:"id"`
		Identifier   string         `json:"identifier"`
		Type         IdentifierType `json:"identifier_type"`
		Endpoint     string         `json:"endpoint"`
		Method       string         `json:"method"`
		Count        int            `json:"request_count"`
		Window       Window         `json:"limit_exceeded"`
		UserAgent    string         `json:"user_agent,omitempty"`
		Origin       string         `json:"origin,omitempty"`
		Referer      string         `json:"referer,omitempty"`
		ForwardedFor string         `json:"x_forwarded_for,omitempty"`
		RealIP       string         `json:"x_real_ip,omitempty"`
		At           time.Time      `json:"created_at"`
	}

	// Store is the persistent counter store. Each operation must be
	// transactional on its own: Check reads the three windows and the
	// block state as one step, Record accounts one request against all
	// three windows as one step.
	Store interface {
		Check(context.Context, Key, Policy) (Decision, error)
		Record(context.Context, Key) error
		LogViolation(context.Context, Violation) error
	}

	// Escalation promotes an identifier to a time-boxed block once its
	// violation tally crosses Threshold within a day.
	Escalation struct {
		Threshold int64
		BlockFor  time.Duration
	}
)

const (
	IdentifierIP   IdentifierType = "IP"
	IdentifierUser IdentifierType = "USER"
)

const (
	WindowNone Window = iota
	WindowMinute
	WindowHour
	WindowDay
)

// DefaultPolicy is the compiled-in fallback, also used verbatim on the
// fail-open path.
var DefaultPolicy = Policy{PerMinute: 50, PerHour: 2000, PerDay: 10000}

var DefaultEscalation = Escalation{Threshold: 5, BlockFor: 24 * time.Hour}

var windowStr = []string{"", "per_minute", "per_hour", "per_day"}

func (w Window) String() string {
	if int(w) < len(windowStr) {
		return windowStr[w]
	}

	return ""
}

func (w Window) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.String() + `"`), nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Identifier, k.Type, k.Endpoint, k.Method)
}

// ExceededWindow reports the first exceeded window in minute, hour, day
// order, or WindowNone when all counts are under their thresholds.
func (d Decision) ExceededWindow() Window {
	switch {
	case d.Current.Minute >= d.Limits.PerMinute:
		return WindowMinute
	case d.Current.Hour >= d.Limits.PerHour:
		return WindowHour
	case d.Current.Day >= d.Limits.PerDay:
		return WindowDay
	}

	return WindowNone
}

// ResetFor returns the reset instant of the given window, defaulting to
// the minute reset.
func (d Decision) ResetFor(w Window) time.Time {
	switch w {
	case WindowHour:
		return d.ResetTimes.Hour
	case WindowDay:
		return d.ResetTimes.Day
	default:
		return d.ResetTimes.Minute
	}
}

// RetryAfter is the number of whole seconds until the caller may retry,
// rounded up and never negative.
func (d Decision) RetryAfter(now time.Time) int {
	var until time.Time

	if d.Blocked && d.BlockedUntil != nil {
		until = *d.BlockedUntil
	} else {
		until = d.ResetFor(d.ExceededWindow())
	}

	left := until.Sub(now)
	if left <= 0 {
		return 0
	}

	return int((left + time.Second - 1) / time.Second)
}
