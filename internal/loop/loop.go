// Package loop runs the periodic single-flight control pass: take the
// process-wide lock, promote ripe schedules, complete expired ones, release.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/matanguihanbenson/agos-app/internal/lifecycle"
)

// ErrBusy is returned when another pass holds the lock for the whole wait
// window. A skipped tick is expected behavior under load, not a failure.
var ErrBusy = errors.New("another sync pass is active")

// Locker is the mutual-exclusion provider the loop runs under.
type Locker interface {
	TryAcquire(ctx context.Context, wait time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Result reports what one pass did.
type Result struct {
	Promoted       int   `json:"promoted"`
	PromoteFailed  int   `json:"promote_failed"`
	Completed      int   `json:"completed"`
	CompleteFailed int   `json:"complete_failed"`
	ElapsedMS      int64 `json:"elapsed_ms"`
}

type Loop struct {
	lock     Locker
	runner   *lifecycle.Runner
	engine   *lifecycle.Engine
	cron     *cron.Cron
	schedule string
	lockWait time.Duration
}

type Options struct {
	// Schedule is a cron spec for the polling cadence, default every minute.
	Schedule string
	// LockWait bounds how long a pass waits for the lock before skipping.
	LockWait time.Duration
}

func New(lock Locker, runner *lifecycle.Runner, engine *lifecycle.Engine, opts Options) *Loop {
	schedule := opts.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	lockWait := opts.LockWait
	if lockWait <= 0 {
		lockWait = 30 * time.Second
	}
	return &Loop{
		lock:     lock,
		runner:   runner,
		engine:   engine,
		cron:     cron.New(),
		schedule: schedule,
		lockWait: lockWait,
	}
}

// Start registers the tick on the polling cadence and starts the scheduler.
func (l *Loop) Start() error {
	if _, err := l.cron.AddFunc(l.schedule, func() {
		if _, err := l.Tick(context.Background()); err != nil && !errors.Is(err, ErrBusy) {
			slog.Error("tick failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("registering sync schedule %q: %w", l.schedule, err)
	}
	l.cron.Start()
	return nil
}

func (l *Loop) Stop() {
	if l.cron != nil {
		l.cron.Stop()
	}
}

// Tick runs one full pass. It returns ErrBusy without touching either store
// when the lock is held elsewhere; any other error aborted the pass partway,
// with the lock still released.
func (l *Loop) Tick(ctx context.Context) (*Result, error) {
	acquired, err := l.lock.TryAcquire(ctx, l.lockWait)
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !acquired {
		ticksSkipped.Inc()
		slog.Info("another sync pass is active; skipping")
		return nil, ErrBusy
	}

	ticksTotal.Inc()
	start := time.Now()
	res := &Result{}

	defer func() {
		// Release with a fresh context so a cancelled tick still lets go.
		if err := l.lock.Release(context.Background()); err != nil {
			slog.Error("releasing sync lock failed", "error", err)
		}
		elapsed := time.Since(start)
		res.ElapsedMS = elapsed.Milliseconds()
		tickDuration.Observe(elapsed.Seconds())
		slog.Info("tick finished", "elapsed_ms", res.ElapsedMS,
			"promoted", res.Promoted, "completed", res.Completed)
	}()

	promoted, promoteFailed, err := l.runner.Run(ctx, lifecycle.StatusScheduled, l.engine.Promote)
	res.Promoted, res.PromoteFailed = promoted, promoteFailed
	promotionsTotal.Add(float64(promoted))
	itemErrorsTotal.WithLabelValues(lifecycle.StatusScheduled).Add(float64(promoteFailed))
	if err != nil {
		return res, err
	}

	completed, completeFailed, err := l.runner.Run(ctx, lifecycle.StatusActive, l.engine.Complete)
	res.Completed, res.CompleteFailed = completed, completeFailed
	completionsTotal.Add(float64(completed))
	itemErrorsTotal.WithLabelValues(lifecycle.StatusActive).Add(float64(completeFailed))
	if err != nil {
		return res, err
	}

	return res, nil
}
