package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Dharshni15/job/internal/pkg/lease"
)

// Task is one recurring unit of scheduled work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler drives the pipeline's recurring tasks: the processor tick,
// the digest calendar checks, and the retention sweep. Each task runs
// on its own ticker and is wrapped in a named lease, so a tick that
// finds the previous one still running (or running on another
// instance) is a no-op.
type Scheduler struct {
	locker lease.Locker
	logger *slog.Logger
	tasks  []Task

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler guarded by the given locker.
func NewScheduler(locker lease.Locker, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		locker: locker,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Add registers a recurring task. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context)) {
	s.tasks = append(s.tasks, Task{Name: name, Interval: interval, Run: run})
}

// Start launches one goroutine per task.
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

// runOnce executes the task under its lease. The lease TTL is twice
// the interval so a run that overshoots one tick still holds its
// guard, while a crashed holder frees up within two.
func (s *Scheduler) runOnce(ctx context.Context, t Task) {
	release, acquired, err := s.locker.Acquire(ctx, t.Name, 2*t.Interval)
	if err != nil {
		s.logger.Error("lease acquire failed", "task", t.Name, "error", err)
		return
	}
	if !acquired {
		s.logger.Debug("skipping task, lease held", "task", t.Name)
		return
	}
	defer release()

	t.Run(ctx)
}
