// Package scheduler runs the agent's periodic jobs on a cron engine with
// per-task run statistics and panic isolation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc is one scheduled job body.
type TaskFunc func(ctx context.Context)

// TaskStats is a point-in-time view of one registered task.
type TaskStats struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	RunCount   int           `json:"run_count"`
	ErrorCount int           `json:"error_count"`
	LastRun    time.Time     `json:"last_run,omitzero"`
	LastError  string        `json:"last_error,omitempty"`
	Enabled    bool          `json:"enabled"`
}

type task struct {
	mu      sync.Mutex
	stats   TaskStats
	fn      TaskFunc
	logger  *slog.Logger
	baseCtx func() context.Context
}

// Run executes the task once, recovering panics into the error counter.
func (t *task) Run() {
	t.mu.Lock()
	if !t.stats.Enabled {
		t.mu.Unlock()
		return
	}
	t.stats.RunCount++
	t.stats.LastRun = time.Now().UTC()
	name := t.stats.Name
	t.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			t.mu.Lock()
			t.stats.ErrorCount++
			t.stats.LastError = fmt.Sprintf("panic: %v", r)
			t.mu.Unlock()
			t.logger.Error("scheduled task panicked", "task", name, "panic", r)
		}
	}()
	t.fn(t.baseCtx())
}

// Scheduler wraps robfig/cron with named tasks and health snapshots.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu     sync.Mutex
	tasks  []*task
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		logger: logger.With("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a task running at the given interval. Intervals at or
// below zero disable the task (it stays visible in snapshots).
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) {
	t := &task{
		stats:   TaskStats{Name: name, Interval: interval, Enabled: interval > 0},
		fn:      fn,
		logger:  s.logger,
		baseCtx: func() context.Context { return s.ctx },
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	if interval > 0 {
		s.cron.Schedule(cron.Every(interval), t)
	}
	s.logger.Info("task registered", "task", name, "interval", interval, "enabled", interval > 0)
}

// Start launches the cron engine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "tasks", len(s.Snapshot()))
}

// Stop cancels running tasks and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Snapshot reports per-task run statistics for system_status.
func (s *Scheduler) Snapshot() []TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		out = append(out, t.stats)
		t.mu.Unlock()
	}
	return out
}

// RunNow triggers one task by name outside its schedule. Unknown names
// return false.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	var found *task
	for _, t := range s.tasks {
		if t.stats.Name == name {
			found = t
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return false
	}
	go found.Run()
	return true
}
