// Package scheduling repeats graph requests on a cron expression or a fixed
// interval, for polling queries that have no subscription counterpart.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRunTimeout bounds a single run when Task.Timeout is zero.
const DefaultRunTimeout = time.Minute

// Task is a named repeated request.
type Task struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *", descriptor "@every 1m", or duration "30s"
	Run      func(ctx context.Context) error
	Timeout  time.Duration
	OneShot  bool
}

// Scheduler fires tasks through robfig/cron. Runs of the same task never
// overlap; a run still in flight when the next tick arrives skips that tick.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Add schedules task. Names are unique.
func (s *Scheduler) Add(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("scheduler: task %q has no run function", task.Name)
	}
	schedule, err := ParseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[task.Name]; exists {
		return fmt.Errorf("scheduler: task %q already exists", task.Name)
	}

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			s.logger.Debug("scheduler stopped, skipping task", "task", task.Name)
			return
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := task.Run(runCtx); err != nil {
			s.logger.Warn("scheduled task failed", "task", task.Name, "error", err, "duration", time.Since(start))
		} else {
			s.logger.Debug("scheduled task completed", "task", task.Name, "duration", time.Since(start))
		}

		if task.OneShot {
			s.cron.Remove(entryID)
			s.mu.Lock()
			delete(s.entries, task.Name)
			s.mu.Unlock()
		}
	}))
	s.entries[task.Name] = entryID

	s.logger.Info("task scheduled", "name", task.Name, "schedule", task.Schedule)
	return nil
}

// Remove unschedules the named task.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("scheduler: task %q not found", name)
	}
	s.cron.Remove(entryID)
	delete(s.entries, name)
	return nil
}

// Next returns the next run time of the named task, or nil if it is not
// scheduled or the scheduler has not started.
func (s *Scheduler) Next(name string) *time.Time {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// Start begins firing tasks. Runs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// ParseSchedule accepts a standard five-field cron expression or
// descriptor first, then a Go duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
