package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lattice-run/breaker/internal/clock"
)

// RedisCache is the external cache adapter backend of spec.md §4.6:
// key-per-metric, incrementing per-second counter keys with Redis's
// atomic INCR (no read-modify-write) and summing trailing buckets for
// window counts. Grounded on
// sneha4175-gateway-pro/internal/ratelimiter/ratelimiter.go's
// newRedisLimiter/redisLimiter (redis.ParseURL, per-call context
// deadline, key namespacing by caller-supplied prefix).
type RedisCache struct {
	client   *redis.Client
	prefix   string
	clock    clock.Clock
	eventCap int64
	ttl      time.Duration
	log      *zap.SugaredLogger
}

// RedisCacheOption configures a RedisCache at construction.
type RedisCacheOption func(*RedisCache)

// WithRedisLogger sets the warn-level logger used for storage exceptions
// that must not propagate out of the call path (spec.md §7).
func WithRedisLogger(l *zap.SugaredLogger) RedisCacheOption {
	return func(rc *RedisCache) { rc.log = l }
}

// WithRedisClock overrides the clock used to derive per-second bucket keys.
func WithRedisClock(c clock.Clock) RedisCacheOption {
	return func(rc *RedisCache) { rc.clock = c }
}

// WithRedisEventCap bounds the event log length kept per breaker name.
func WithRedisEventCap(n int64) RedisCacheOption {
	return func(rc *RedisCache) { rc.eventCap = n }
}

// NewRedisCache connects to a Redis instance described by redisURL
// (scheme redis:// or rediss://, per redis.ParseURL) and namespaces every
// key under prefix, e.g. "circuitbreaker".
func NewRedisCache(redisURL, prefix string, opts ...RedisCacheOption) (*RedisCache, error) {
	o, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}
	rc := &RedisCache{
		client:   redis.NewClient(o),
		prefix:   prefix,
		clock:    clock.System,
		eventCap: 256,
		ttl:      10 * time.Minute,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc, nil
}

func (rc *RedisCache) statusKey(name string) string { return rc.prefix + ":status:" + name }
func (rc *RedisCache) eventsKey(name string) string { return rc.prefix + ":events:" + name }
func (rc *RedisCache) bucketKey(name string, kind string, sec int64) string {
	return rc.prefix + ":bucket:" + name + ":" + kind + ":" + strconv.FormatInt(sec, 10)
}

func (rc *RedisCache) GetStatus(ctx context.Context, name string) (Status, bool, error) {
	res, err := rc.client.HGetAll(ctx, rc.statusKey(name)).Result()
	if err != nil {
		rc.log.Warnw("storage: redis get status failed", "name", name, "err", err)
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	st := Status{State: res["state"]}
	if ns, ok := res["opened_at"]; ok && ns != "" {
		if v, perr := strconv.ParseInt(ns, 10, 64); perr == nil {
			st.OpenedAt = time.Unix(0, v)
		}
	}
	return st, true, nil
}

func (rc *RedisCache) SetStatus(ctx context.Context, name string, status Status) error {
	fields := map[string]interface{}{"state": status.State}
	if !status.OpenedAt.IsZero() {
		fields["opened_at"] = status.OpenedAt.UnixNano()
	} else {
		fields["opened_at"] = ""
	}
	if err := rc.client.HSet(ctx, rc.statusKey(name), fields).Err(); err != nil {
		rc.log.Warnw("storage: redis set status failed", "name", name, "err", err)
		return err
	}
	return nil
}

func (rc *RedisCache) incr(ctx context.Context, name, kind string) error {
	sec := rc.clock.Now().Unix()
	key := rc.bucketKey(name, kind, sec)
	pipe := rc.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		rc.log.Warnw("storage: redis increment failed", "name", name, "kind", kind, "err", err)
		return err
	}
	return nil
}

func (rc *RedisCache) RecordSuccess(ctx context.Context, name string, _ time.Duration) error {
	return rc.incr(ctx, name, "success")
}

func (rc *RedisCache) RecordFailure(ctx context.Context, name string, _ time.Duration) error {
	return rc.incr(ctx, name, "failure")
}

// windowSum sums the per-second bucket keys over the trailing
// windowSeconds, mirroring the "sum trailing buckets" rule spec.md §4.6
// gives the cache adapter.
func (rc *RedisCache) windowSum(ctx context.Context, name, kind string, windowSeconds int64) (int64, error) {
	nowSec := rc.clock.Now().Unix()
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	keys := make([]string, windowSeconds)
	for i := int64(0); i < windowSeconds; i++ {
		keys[i] = rc.bucketKey(name, kind, nowSec-i)
	}
	vals, err := rc.client.MGet(ctx, keys...).Result()
	if err != nil {
		rc.log.Warnw("storage: redis window sum failed", "name", name, "kind", kind, "err", err)
		return 0, err
	}
	var total int64
	for _, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, perr := strconv.ParseInt(s, 10, 64)
		if perr == nil {
			total += n
		}
	}
	return total, nil
}

func (rc *RedisCache) SuccessCount(ctx context.Context, name string, windowSeconds int64) (int64, error) {
	return rc.windowSum(ctx, name, "success", windowSeconds)
}

func (rc *RedisCache) FailureCount(ctx context.Context, name string, windowSeconds int64) (int64, error) {
	return rc.windowSum(ctx, name, "failure", windowSeconds)
}

// encodedEvent is the YAML wire shape for an Event stored in Redis,
// matching gateway-pro's config-as-YAML convention for structured data
// at rest (internal/config/config.go).
type encodedEvent struct {
	Kind     string        `yaml:"kind"`
	At       time.Time     `yaml:"at"`
	Duration time.Duration `yaml:"duration"`
	ErrClass string        `yaml:"err_class,omitempty"`
	ErrMsg   string        `yaml:"err_msg,omitempty"`
	NewState string        `yaml:"new_state,omitempty"`
}

func toEncoded(ev Event) encodedEvent {
	return encodedEvent{
		Kind: ev.Kind.String(), At: ev.At, Duration: ev.Duration,
		ErrClass: ev.ErrClass, ErrMsg: ev.ErrMsg, NewState: ev.NewState,
	}
}

func kindFromString(s string) EventKind {
	switch s {
	case "success":
		return Success
	case "failure":
		return Failure
	case "state_change":
		return StateChange
	case "rejection":
		return Rejection
	default:
		return Success
	}
}

func (e encodedEvent) toEvent() Event {
	return Event{
		Kind: kindFromString(e.Kind), At: e.At, Duration: e.Duration,
		ErrClass: e.ErrClass, ErrMsg: e.ErrMsg, NewState: e.NewState,
	}
}

func (rc *RedisCache) RecordEvent(ctx context.Context, name string, ev Event) error {
	blob, err := yaml.Marshal(toEncoded(ev))
	if err != nil {
		return err
	}
	key := rc.eventsKey(name)
	pipe := rc.client.TxPipeline()
	pipe.LPush(ctx, key, string(blob))
	pipe.LTrim(ctx, key, 0, rc.eventCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		rc.log.Warnw("storage: redis record event failed", "name", name, "err", err)
		return err
	}
	return nil
}

func (rc *RedisCache) EventLog(ctx context.Context, name string, limit int) ([]Event, error) {
	key := rc.eventsKey(name)
	stop := int64(limit - 1)
	if limit <= 0 {
		stop = -1
	}
	blobs, err := rc.client.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		rc.log.Warnw("storage: redis event log read failed", "name", name, "err", err)
		return nil, err
	}
	// LPUSH stores newest-first; reverse to satisfy "newest-last" (spec.md §4.6).
	out := make([]Event, 0, len(blobs))
	for i := len(blobs) - 1; i >= 0; i-- {
		var enc encodedEvent
		if err := yaml.Unmarshal([]byte(blobs[i]), &enc); err != nil {
			continue
		}
		out = append(out, enc.toEvent())
	}
	return out, nil
}

func (rc *RedisCache) Clear(ctx context.Context, name string) error {
	keys := []string{rc.statusKey(name), rc.eventsKey(name)}
	iter := rc.client.Scan(ctx, 0, rc.prefix+":bucket:"+name+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return rc.client.Del(ctx, keys...).Err()
}

// ClearAll scans for every key under this adapter's prefix and deletes
// them. Expensive by design (SCAN, not a single command); intended for
// test/ops use, not the hot path.
func (rc *RedisCache) ClearAll(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, rc.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return rc.client.Del(ctx, keys...).Err()
}

// WithTimeout bounds op with a context deadline of ms milliseconds,
// the same pattern as gateway-pro's redisLimiter.Allow
// (context.WithTimeout(r.Context(), 50*time.Millisecond)).
func (rc *RedisCache) WithTimeout(ctx context.Context, ms int64, op func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
	defer cancel()
	err := op(cctx)
	if err != nil && cctx.Err() != nil {
		return &TimeoutError{LimitMS: ms}
	}
	return err
}
