package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"videoshop/internal/model"
)

// ==================== Test helpers ====================

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&model.Product{},
		&model.Order{}, &model.OrderItem{},
		&model.VideoCacheEntry{}, &model.VideoProductLink{},
		&model.Subscription{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingNotifier keeps every notification; fails for recipients in failFor.
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []Notification
	failFor map[string]bool
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[msg.Recipient] {
		return errors.New("mailbox unavailable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

// queuedScheduler records scheduled jobs and runs them on demand.
type queuedScheduler struct {
	mu   sync.Mutex
	jobs []queuedJob
}

type queuedJob struct {
	name  string
	delay time.Duration
	fn    func(ctx context.Context)
}

func (s *queuedScheduler) Schedule(delay time.Duration, name string, fn func(ctx context.Context)) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, queuedJob{name: name, delay: delay, fn: fn})
	return name
}

func (s *queuedScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// RunAll drains the queue, including jobs scheduled while running.
func (s *queuedScheduler) RunAll(ctx context.Context) int {
	ran := 0
	for {
		s.mu.Lock()
		if len(s.jobs) == 0 {
			s.mu.Unlock()
			return ran
		}
		job := s.jobs[0]
		s.jobs = s.jobs[1:]
		s.mu.Unlock()
		job.fn(ctx)
		ran++
	}
}
