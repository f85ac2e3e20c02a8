package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"videoshop/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// ==================== Quota ====================

// QuotaStatus snapshot of today's video API budget.
type QuotaStatus struct {
	Day        string  `json:"day"`
	Used       int     `json:"used"`
	Remaining  int     `json:"remaining"`
	Limit      int     `json:"limit"`
	Percentage float64 `json:"percentage"`
	Exhausted  bool    `json:"exhausted"`
}

// QuotaStore accounts video API units per provider day. Reserve is called
// before every request so the spent total never passes the limit.
type QuotaStore interface {
	// Reserve books units and reports whether they fit in today's budget.
	Reserve(ctx context.Context, units int) (bool, error)
	Status(ctx context.Context) (QuotaStatus, error)
	Reset(ctx context.Context) error
	// MarkExhausted records that the provider refused further calls today.
	MarkExhausted(ctx context.Context) error
}

// quotaLocation the provider resets quotas at midnight Pacific time.
func quotaLocation() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.UTC
	}
	return loc
}

func quotaStatus(day string, used, limit int) QuotaStatus {
	if used > limit {
		used = limit
	}
	st := QuotaStatus{Day: day, Used: used, Remaining: limit - used, Limit: limit}
	if limit > 0 {
		st.Percentage = float64(used) / float64(limit) * 100
	}
	st.Exhausted = st.Remaining <= 0
	return st
}

// ==================== MemoryQuotaStore ====================

// MemoryQuotaStore single-process quota with daily rollover.
type MemoryQuotaStore struct {
	mu    sync.Mutex
	limit int
	day   string
	used  int
	loc   *time.Location
	now   func() time.Time
}

func NewMemoryQuotaStore(limit int) *MemoryQuotaStore {
	if limit <= 0 {
		limit = 10000
	}
	return &MemoryQuotaStore{limit: limit, loc: quotaLocation(), now: time.Now}
}

// WithClock replaces the clock, for tests.
func (q *MemoryQuotaStore) WithClock(now func() time.Time) *MemoryQuotaStore {
	q.now = now
	return q
}

// rollover must be called with mu held.
func (q *MemoryQuotaStore) rollover() {
	day := q.now().In(q.loc).Format("2006-01-02")
	if day != q.day {
		q.day = day
		q.used = 0
	}
}

func (q *MemoryQuotaStore) Reserve(_ context.Context, units int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if q.used+units > q.limit {
		return false, nil
	}
	q.used += units
	metrics.VideoQuotaUsed(q.used)
	return true, nil
}

func (q *MemoryQuotaStore) Status(_ context.Context) (QuotaStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return quotaStatus(q.day, q.used, q.limit), nil
}

func (q *MemoryQuotaStore) Reset(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.used = 0
	metrics.VideoQuotaUsed(0)
	return nil
}

func (q *MemoryQuotaStore) MarkExhausted(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.used = q.limit
	metrics.VideoQuotaUsed(q.used)
	return nil
}

// ==================== RedisQuotaStore ====================

// reserveScript increments the day counter only when the result stays within
// the limit. KEYS[1] counter, ARGV[1] units, ARGV[2] limit, ARGV[3] ttl seconds.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local units = tonumber(ARGV[1])
if used + units > tonumber(ARGV[2]) then
  return -1
end
used = redis.call("INCRBY", KEYS[1], units)
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[3]))
return used
`)

// RedisQuotaStore shares the budget between instances. One key per day,
// expiring after 48h.
type RedisQuotaStore struct {
	client *redis.Client
	prefix string
	limit  int
	ttl    time.Duration
	loc    *time.Location
	now    func() time.Time
}

func NewRedisQuotaStore(client *redis.Client, limit int) *RedisQuotaStore {
	if limit <= 0 {
		limit = 10000
	}
	return &RedisQuotaStore{
		client: client,
		prefix: "videoshop:quota:",
		limit:  limit,
		ttl:    48 * time.Hour,
		loc:    quotaLocation(),
		now:    time.Now,
	}
}

// NewRedisClient connects and pings, mirroring how the database is opened.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (q *RedisQuotaStore) day() string {
	return q.now().In(q.loc).Format("2006-01-02")
}

func (q *RedisQuotaStore) key(day string) string {
	return q.prefix + day
}

func (q *RedisQuotaStore) Reserve(ctx context.Context, units int) (bool, error) {
	used, err := reserveScript.Run(ctx, q.client, []string{q.key(q.day())},
		units, q.limit, int(q.ttl.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("quota reserve: %w", err)
	}
	if used < 0 {
		return false, nil
	}
	metrics.VideoQuotaUsed(used)
	return true, nil
}

func (q *RedisQuotaStore) Status(ctx context.Context) (QuotaStatus, error) {
	day := q.day()
	used, err := q.client.Get(ctx, q.key(day)).Int()
	if err != nil && err != redis.Nil {
		return QuotaStatus{}, fmt.Errorf("quota status: %w", err)
	}
	return quotaStatus(day, used, q.limit), nil
}

func (q *RedisQuotaStore) Reset(ctx context.Context) error {
	if err := q.client.Del(ctx, q.key(q.day())).Err(); err != nil {
		return fmt.Errorf("quota reset: %w", err)
	}
	metrics.VideoQuotaUsed(0)
	return nil
}

func (q *RedisQuotaStore) MarkExhausted(ctx context.Context) error {
	if err := q.client.Set(ctx, q.key(q.day()), q.limit, q.ttl).Err(); err != nil {
		return fmt.Errorf("quota exhaust: %w", err)
	}
	metrics.VideoQuotaUsed(q.limit)
	return nil
}
