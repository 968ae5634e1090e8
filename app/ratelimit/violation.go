package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ViolationLogger writes audit records for deny decisions. Log is
// synchronous but bounded; callers fire it in a goroutine so it can
// never delay or alter the HTTP response. Warning output is throttled
// so an abusive caller cannot flood the logs.
type ViolationLogger struct {
	store   Store
	timeout time.Duration
	warn    *rate.Limiter
}

const violationLogTimeout = 3 * time.Second

func NewViolationLogger(store Store) *ViolationLogger {
	return &ViolationLogger{
		store:   store,
		timeout: violationLogTimeout,
		warn:    rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (l *ViolationLogger) Log(v Violation) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}

	if v.At.IsZero() {
		v.At = time.Now().UTC()
	}

	if l.warn.Allow() {
		log.WithFields(log.Fields{
			"identifier": v.Identifier,
			"type":       v.Type,
			"endpoint":   v.Endpoint,
			"method":     v.Method,
			"window":     v.Window.String(),
			"count":      v.Count,
		}).Warn("rate limit violation")
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.store.LogViolation(ctx, v); err != nil && l.warn.Allow() {
		log.WithFields(log.Fields{
			"identifier": v.Identifier,
			"type":       v.Type,
			"error":      err,
		}).Warn("failed to persist rate limit violation")
	}
}
