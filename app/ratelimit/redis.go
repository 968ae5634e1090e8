package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps the authoritative counters in redis. Check reads the
// three window counters and the block state in a single Lua script so
// concurrent callers always observe one consistent snapshot; Record and
// LogViolation each run as one MULTI/EXEC transaction.
type RedisStore struct {
	client     *redis.Client
	escalation Escalation
	now        func() time.Time
}

var _ Store = (*RedisStore)(nil)

const (
	counterKeyPrefix = "ratelimit:count"
	blockKeyPrefix   = "ratelimit:block"
	tallyKeyPrefix   = "ratelimit:violations:count"
	violationLogKey  = "ratelimit:violations:log"

	violationLogCap = 10000
	tallyWindow     = 24 * time.Hour
)

var checkScript = redis.NewScript(`
local m = redis.call('GET', KEYS[1])
local h = redis.call('GET', KEYS[2])
local d = redis.call('GET', KEYS[3])
local b = redis.call('GET', KEYS[4])
return {tonumber(m) or 0, tonumber(h) or 0, tonumber(d) or 0, tonumber(b) or 0}
`)

func NewRedisStore(client *redis.Client, escalation Escalation) *RedisStore {
	if escalation.Threshold <= 0 {
		escalation = DefaultEscalation
	}

	return &RedisStore{
		client:     client,
		escalation: escalation,
		now:        time.Now,
	}
}

func (s *RedisStore) Check(ctx context.Context, k Key, p Policy) (Decision, error) {
	var (
		now = s.now().UTC()
		w   = currentSpans(now)
	)

	keys := []string{
		s.counterKey(k, "m", w.minute),
		s.counterKey(k, "h", w.hour),
		s.counterKey(k, "d", w.day),
		s.blockKey(k),
	}

	res, err := checkScript.Run(ctx, s.client, keys).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check rate limit for key %q: %w", k, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return Decision{}, fmt.Errorf("unexpected check result shape for key %q", k)
	}

	var (
		current = Usage{
			Minute: int(toInt64(vals[0])),
			Hour:   int(toInt64(vals[1])),
			Day:    int(toInt64(vals[2])),
		}
		blockedUntilUnix = toInt64(vals[3])
	)

	d := Decision{
		Current:    current,
		Limits:     p,
		ResetTimes: w.resets(),
	}

	if blockedUntilUnix > now.Unix() {
		until := time.Unix(blockedUntilUnix, 0).UTC()
		d.Blocked = true
		d.BlockedUntil = &until

		return d, nil
	}

	d.Allowed = current.Minute < p.PerMinute &&
		current.Hour < p.PerHour &&
		current.Day < p.PerDay

	return d, nil
}

func (s *RedisStore) Record(ctx context.Context, k Key) error {
	var (
		now = s.now().UTC()
		w   = currentSpans(now)
	)

	pipe := s.client.TxPipeline()

	mk := s.counterKey(k, "m", w.minute)
	hk := s.counterKey(k, "h", w.hour)
	dk := s.counterKey(k, "d", w.day)

	pipe.Incr(ctx, mk)
	pipe.Expire(ctx, mk, 2*time.Minute)
	pipe.Incr(ctx, hk)
	pipe.Expire(ctx, hk, 2*time.Hour)
	pipe.Incr(ctx, dk)
	pipe.Expire(ctx, dk, 2*day)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record request for key %q: %w", k, err)
	}

	return nil
}

func (s *RedisStore) LogViolation(ctx context.Context, v Violation) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode violation: %w", err)
	}

	var (
		k     = Key{Identifier: v.Identifier, Type: v.Type}
		tk    = s.tallyKey(k)
		pipe  = s.client.TxPipeline()
		tally = pipe.Incr(ctx, tk)
	)

	pipe.Expire(ctx, tk, tallyWindow)
	pipe.LPush(ctx, violationLogKey, b)
	pipe.LTrim(ctx, violationLogKey, 0, violationLogCap-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to log violation for key %q: %w", k, err)
	}

	if tally.Val() >= s.escalation.Threshold {
		until := s.now().UTC().Add(s.escalation.BlockFor)

		err := s.client.Set(ctx, s.blockKey(k), strconv.FormatInt(until.Unix(), 10), s.escalation.BlockFor).Err()
		if err != nil {
			return fmt.Errorf("failed to set block for key %q: %w", k, err)
		}
	}

	return nil
}

func (s *RedisStore) counterKey(k Key, granularity string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s:%d",
		counterKeyPrefix, k.Type, k.Identifier, k.Endpoint, k.Method, granularity, start.Unix())
}

func (s *RedisStore) blockKey(k Key) string {
	return fmt.Sprintf("%s:%s:%s", blockKeyPrefix, k.Type, k.Identifier)
}

func (s *RedisStore) tallyKey(k Key) string {
	return fmt.Sprintf("%s:%s:%s", tallyKeyPrefix, k.Type, k.Identifier)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
