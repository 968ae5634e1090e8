package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-process store with the same
// semantics as RedisStore. It backs development setups and tests; it is
// not suitable for horizontally scaled deployments.
type MemoryStore struct {
	mu         sync.Mutex
	counters   map[string]int
	blocks     map[string]time.Time
	tallies    map[string]*tally
	violations []Violation
	escalation Escalation
	now        func() time.Time
}

type tally struct {
	count   int64
	firstAt time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(escalation Escalation) *MemoryStore {
	if escalation.Threshold <= 0 {
		escalation = DefaultEscalation
	}

	return &MemoryStore{
		counters:   make(map[string]int),
		blocks:     make(map[string]time.Time),
		tallies:    make(map[string]*tally),
		escalation: escalation,
		now:        time.Now,
	}
}

func (s *MemoryStore) Check(_ context.Context, k Key, p Policy) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		now = s.now().UTC()
		w   = currentSpans(now)
	)

	d := Decision{
		Current: Usage{
			Minute: s.counters[memoryKey(k, "m", w.minute)],
			Hour:   s.counters[memoryKey(k, "h", w.hour)],
			Day:    s.counters[memoryKey(k, "d", w.day)],
		},
		Limits:     p,
		ResetTimes: w.resets(),
	}

	if until, ok := s.blocks[k.Type.idKey(k.Identifier)]; ok && until.After(now) {
		until := until
		d.Blocked = true
		d.BlockedUntil = &until

		return d, nil
	}

	d.Allowed = d.Current.Minute < p.PerMinute &&
		d.Current.Hour < p.PerHour &&
		d.Current.Day < p.PerDay

	return d, nil
}

func (s *MemoryStore) Record(_ context.Context, k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := currentSpans(s.now())

	s.counters[memoryKey(k, "m", w.minute)]++
	s.counters[memoryKey(k, "h", w.hour)]++
	s.counters[memoryKey(k, "d", w.day)]++

	return nil
}

func (s *MemoryStore) LogViolation(_ context.Context, v Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		now = s.now().UTC()
		id  = v.Type.idKey(v.Identifier)
	)

	s.violations = append(s.violations, v)

	t, ok := s.tallies[id]
	if !ok || now.Sub(t.firstAt) > tallyWindow {
		t = &tally{firstAt: now}
		s.tallies[id] = t
	}

	t.count++

	if t.count >= s.escalation.Threshold {
		s.blocks[id] = now.Add(s.escalation.BlockFor)
	}

	return nil
}

// Violations returns a snapshot of the audit trail.
func (s *MemoryStore) Violations() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Violation, len(s.violations))
	copy(out, s.violations)

	return out
}

func (t IdentifierType) idKey(identifier string) string {
	return string(t) + ":" + identifier
}

func memoryKey(k Key, granularity string, start time.Time) string {
	return k.String() + ":" + granularity + ":" + start.UTC().Format(time.RFC3339)
}
