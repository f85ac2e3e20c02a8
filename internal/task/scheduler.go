package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"videoshop/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ==================== TimerScheduler ====================

// TimerScheduler runs one-shot delayed jobs on runtime timers. Each job gets
// its own timeout context derived from the scheduler's lifetime.
type TimerScheduler struct {
	base    context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	running sync.WaitGroup

	log *zap.SugaredLogger
}

func NewTimerScheduler(jobTimeout time.Duration) *TimerScheduler {
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	return &TimerScheduler{
		base:    base,
		cancel:  cancel,
		timeout: jobTimeout,
		timers:  make(map[string]*time.Timer),
		log:     logger.Named("[Scheduler]"),
	}
}

// Schedule runs fn once after delay and returns the job id. Jobs scheduled
// after Stop are dropped.
func (s *TimerScheduler) Schedule(delay time.Duration, name string, fn func(ctx context.Context)) string {
	id := name + "-" + uuid.NewString()[:8]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.log.Warnw("scheduler stopped, job dropped", "job", id)
		return id
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.run(id, fn) })
	s.log.Debugw("job scheduled", "job", id, "delay", delay)
	return id
}

func (s *TimerScheduler) run(id string, fn func(ctx context.Context)) {
	s.mu.Lock()
	delete(s.timers, id)
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("job panicked", "job", id, "panic", r)
		}
	}()

	began := time.Now()
	fn(ctx)
	s.log.Debugw("job finished", "job", id, "took", time.Since(began).Round(time.Millisecond))
}

// Cancel stops a job that has not started yet.
func (s *TimerScheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	return t.Stop()
}

// Pending ids of jobs waiting for their timer, sorted.
func (s *TimerScheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop drops pending jobs and waits for running ones until ctx expires, at
// which point their contexts are cancelled.
func (s *TimerScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// ==================== ManualScheduler ====================

// ManualScheduler queues jobs and runs them only when asked. Delays are
// recorded but not waited for.
type ManualScheduler struct {
	mu   sync.Mutex
	jobs []ManualJob
}

type ManualJob struct {
	ID    string
	Name  string
	Delay time.Duration
	fn    func(ctx context.Context)
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Schedule(delay time.Duration, name string, fn func(ctx context.Context)) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := name + "-" + uuid.NewString()[:8]
	s.jobs = append(s.jobs, ManualJob{ID: id, Name: name, Delay: delay, fn: fn})
	return id
}

// Pending snapshot of queued jobs in scheduling order.
func (s *ManualScheduler) Pending() []ManualJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ManualJob(nil), s.jobs...)
}

// RunNext runs the oldest queued job. Returns false when the queue is empty.
func (s *ManualScheduler) RunNext(ctx context.Context) bool {
	s.mu.Lock()
	if len(s.jobs) == 0 {
		s.mu.Unlock()
		return false
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	s.mu.Unlock()

	job.fn(ctx)
	return true
}

// RunAll drains the queue, including jobs scheduled by the jobs it runs.
func (s *ManualScheduler) RunAll(ctx context.Context) int {
	n := 0
	for s.RunNext(ctx) {
		n++
	}
	return n
}
