// Package analytics counts decisions in Redis, bucketed per user and
// action. Counters back the "how often did we delegate for this user"
// style queries without touching the primary store.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

type Config struct {
	// Window is the counter bucket size: minute, 5 minutes, or hour.
	Window time.Duration
	// Retention is the TTL applied to each bucket.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Retention: 30 * 24 * time.Hour,
	}
}

type RedisSink struct {
	client *redis.Client
	cfg    Config
	clock  func() time.Time
}

func NewRedisSink(client *redis.Client, cfg Config) *RedisSink {
	return &RedisSink{client: client, cfg: cfg, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *RedisSink) WithClock(clock func() time.Time) *RedisSink {
	s.clock = clock
	return s
}

// RecordDecision bumps the per-user and per-action counters for the
// decision's bucket. Best effort: failures are logged, never returned.
func (s *RedisSink) RecordDecision(ctx context.Context, dec domain.Decision) {
	now := s.clock()

	userKey := buildKey("u", dec.UserID, string(dec.Action), now, s.cfg.Window)
	actionKey := buildKey("a", string(dec.Action), "all", now, s.cfg.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, userKey)
	pipe.Expire(ctx, userKey, s.cfg.Retention)
	pipe.Incr(ctx, actionKey)
	pipe.Expire(ctx, actionKey, s.cfg.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

// Count reads a per-user counter for one action and bucket time.
func (s *RedisSink) Count(ctx context.Context, userID string, action domain.Action, at time.Time) (int64, error) {
	key := buildKey("u", userID, string(action), at, s.cfg.Window)
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

func buildKey(scope, id, action string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("dec:%s:%s:%s:%s", scope, id, action, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
