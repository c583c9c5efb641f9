// Package scheduler runs the daily batch on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five-field cron expression or a descriptor such as
// "@daily" or "@every 1h".
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Job is one scheduled unit of work. ctx is cancelled when the scheduler
// stops.
type Job func(ctx context.Context)

// Scheduler invokes a single job on a cron schedule. A run that is still
// going when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	expr   string
	job    Job
	logger *slog.Logger
	cron   *cron.Cron
	id     cron.EntryID

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New validates expr and prepares a scheduler in the given location. A nil
// location means time.Local.
func New(expr string, loc *time.Location, logger *slog.Logger, job Job) (*Scheduler, error) {
	if _, err := ParseCron(expr); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		expr:   expr,
		job:    job,
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

// Start registers the job and starts the cron loop. Jobs receive ctx's
// values but not its cancellation; only Stop ends a running job's context.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id, err := s.cron.AddFunc(s.expr, func() { s.job(jobCtx) })
	if err != nil {
		cancel()
		return fmt.Errorf("adding job: %w", err)
	}
	s.id = id
	s.cancel = cancel
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.expr, "next", s.cron.Entry(id).Next)
	return nil
}

// Next returns the next scheduled run, or the zero time when not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.id).Next
}

// Stop halts new runs and waits for a running job to return or for ctx to
// expire, whichever comes first. Running jobs see their context cancelled
// only when ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	defer cancel()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
