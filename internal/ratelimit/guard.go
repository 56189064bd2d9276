// Package ratelimit implements the fixed-window rate limiter and
// points-based daily spend guard described in the provenance service
// design. It is a deliberate redesign of the corpus's token-bucket
// infrastructure/ratelimit package: the spec calls for fixed-window
// admission-burst semantics, so counters are keyed by
// floor(now/window_seconds) rather than replenished continuously.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	svcerrors "github.com/R3E-Network/provenance-service/internal/errors"
	"github.com/R3E-Network/provenance-service/internal/metrics"
)

// Store is the counter/ledger backend. Guard uses a shared Store (Redis)
// when configured, or an in-process Store for single-instance deployments;
// both satisfy the same semantics.
type Store interface {
	// IncrementWindow atomically increments the counter for (clientID,
	// bucket, windowStart) and returns the post-increment count. The
	// counter's TTL is set to windowSeconds on first increment.
	IncrementWindow(ctx context.Context, clientID, bucket string, windowStart int64, windowSeconds int) (int, error)
	// AddSpend atomically adds cost to the client's ledger for dayKey and
	// returns the post-add total.
	AddSpend(ctx context.Context, clientID, dayKey string, cost int) (int, error)
	// Reset clears every counter and ledger entry for a client (admin op).
	Reset(ctx context.Context, clientID string) error
}

// BucketRule is a single bucket's fixed-window parameters.
type BucketRule struct {
	MaxRequests   int
	WindowSeconds int
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Guard enforces per-bucket fixed-window limits plus a daily spend cap.
type Guard struct {
	store         Store
	buckets       map[string]BucketRule
	dailySpendCap int
	now           func() time.Time
}

// New constructs a Guard. now defaults to time.Now; tests may override it.
func New(store Store, buckets map[string]BucketRule, dailySpendCap int) *Guard {
	return &Guard{store: store, buckets: buckets, dailySpendCap: dailySpendCap, now: time.Now}
}

func (g *Guard) rule(bucket string) BucketRule {
	if r, ok := g.buckets[bucket]; ok {
		return r
	}
	return g.buckets["default"]
}

// Authorize admits or rejects a metered call. On rejection it returns a
// *errors.ServiceError with RateLimited or SpendCapExceeded.
func (g *Guard) Authorize(ctx context.Context, clientID, bucket string, costPoints int) (Decision, error) {
	rule := g.rule(bucket)
	now := g.now().UTC()
	windowSeconds := rule.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	windowStart := now.Unix() / int64(windowSeconds)
	windowEnd := time.Unix((windowStart+1)*int64(windowSeconds), 0).UTC()

	count, err := g.store.IncrementWindow(ctx, clientID, bucket, windowStart, windowSeconds)
	if err != nil {
		return Decision{}, svcerrors.InternalError("rate limit store failure").WithErr(err)
	}
	if count > rule.MaxRequests {
		retryAfter := windowEnd.Sub(now)
		metrics.RecordRateLimitRejection(bucket, "window")
		return Decision{Allowed: false, RetryAfter: retryAfter},
			svcerrors.RateLimited(fmt.Sprintf("bucket %q exceeded (%d/%d per %ds)", bucket, count, rule.MaxRequests, windowSeconds))
	}

	dayKey := now.Format("2006-01-02")
	used, err := g.store.AddSpend(ctx, clientID, dayKey, costPoints)
	if err != nil {
		return Decision{}, svcerrors.InternalError("spend ledger store failure").WithErr(err)
	}
	if used > g.dailySpendCap {
		// Roll back the debit; the counter increment above is authoritative
		// and is not rolled back per the spec's reconciliation rule.
		_, _ = g.store.AddSpend(ctx, clientID, dayKey, -costPoints)
		tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		metrics.RecordRateLimitRejection(bucket, "spend_cap")
		return Decision{Allowed: false, RetryAfter: tomorrow.Sub(now)},
			svcerrors.SpendCapExceeded(fmt.Sprintf("daily spend cap exceeded (%d/%d points)", used, g.dailySpendCap))
	}

	return Decision{Allowed: true}, nil
}

// Reset clears all rate-limit and spend state for a client.
func (g *Guard) Reset(ctx context.Context, clientID string) error {
	return g.store.Reset(ctx, clientID)
}

// MemoryStore is the single-instance in-process Store implementation, used
// when no shared cache is configured.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]windowCounter
	spend   map[string]int
}

type windowCounter struct {
	windowStart int64
	count       int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: map[string]windowCounter{}, spend: map[string]int{}}
}

func (m *MemoryStore) IncrementWindow(_ context.Context, clientID, bucket string, windowStart int64, _ int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s:%s", clientID, bucket)
	cur := m.windows[key]
	if cur.windowStart != windowStart {
		cur = windowCounter{windowStart: windowStart, count: 0}
	}
	cur.count++
	m.windows[key] = cur
	return cur.count, nil
}

func (m *MemoryStore) AddSpend(_ context.Context, clientID, dayKey string, cost int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s:%s", clientID, dayKey)
	m.spend[key] += cost
	if m.spend[key] < 0 {
		m.spend[key] = 0
	}
	return m.spend[key], nil
}

func (m *MemoryStore) Reset(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := clientID + ":"
	for k := range m.windows {
		if hasPrefix(k, prefix) {
			delete(m.windows, k)
		}
	}
	for k := range m.spend {
		if hasPrefix(k, prefix) {
			delete(m.spend, k)
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// RedisStore is the shared-cache Store backend used across multiple
// instances; atomicity comes from Redis's single-threaded INCR/INCRBY.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) IncrementWindow(ctx context.Context, clientID, bucket string, windowStart int64, windowSeconds int) (int, error) {
	key := fmt.Sprintf("ratelimit:%s:%s:%d", clientID, bucket, windowStart)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		r.client.Expire(ctx, key, time.Duration(windowSeconds)*time.Second)
	}
	return int(count), nil
}

func (r *RedisStore) AddSpend(ctx context.Context, clientID, dayKey string, cost int) (int, error) {
	key := fmt.Sprintf("spend:%s:%s", clientID, dayKey)
	total, err := r.client.IncrBy(ctx, key, int64(cost)).Result()
	if err != nil {
		return 0, err
	}
	if total == int64(cost) {
		r.client.Expire(ctx, key, 48*time.Hour)
	}
	return int(total), nil
}

func (r *RedisStore) Reset(ctx context.Context, clientID string) error {
	iter := r.client.Scan(ctx, 0, fmt.Sprintf("*%s*", clientID), 0).Iterator()
	for iter.Next(ctx) {
		r.client.Del(ctx, iter.Val())
	}
	return iter.Err()
}
