package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
)

// Task is one housekeeping job on a cron schedule. A task with Every set runs
// on its own ticker at that period and ignores Expr.
type Task struct {
	Name  string
	Expr  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// CronRunner evaluates every expression task once a minute and runs the due
// ones in order. Interval tasks tick independently.
type CronRunner struct {
	tasks   []Task
	g       *gronx.Gronx
	timeout time.Duration
	now     func() time.Time
	log     *zerolog.Logger
}

func NewCronRunner(logger *zerolog.Logger, tasks ...Task) (*CronRunner, error) {
	g := gronx.New()
	for _, t := range tasks {
		if t.Run == nil {
			return nil, fmt.Errorf("cron task %q has no func", t.Name)
		}
		if t.Every < 0 {
			return nil, fmt.Errorf("cron task %q: negative interval %s", t.Name, t.Every)
		}
		if t.Every == 0 && !g.IsValid(t.Expr) {
			return nil, fmt.Errorf("cron task %q: invalid expression %q", t.Name, t.Expr)
		}
	}
	compLog := logger.With().Str("component", "CronRunner").Logger()
	return &CronRunner{
		tasks:   tasks,
		g:       g,
		timeout: 30 * time.Second,
		now:     time.Now,
		log:     &compLog,
	}, nil
}

func (r *CronRunner) WithClock(now func() time.Time) *CronRunner {
	r.now = now
	return r
}

func (r *CronRunner) Run(ctx context.Context) error {
	r.log.Info().Int("tasks", len(r.tasks)).Msg("Starting cron runner")

	var wg sync.WaitGroup
	for _, t := range r.tasks {
		if t.Every > 0 {
			wg.Add(1)
			go func(t Task) {
				defer wg.Done()
				r.runEvery(ctx, t)
			}(t)
		}
	}
	defer wg.Wait()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Stopping cron runner")
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx, r.now())
		}
	}
}

func (r *CronRunner) runEvery(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runTask(ctx, t)
		}
	}
}

// Tick runs the expression tasks due at the minute containing at and returns
// how many ran.
func (r *CronRunner) Tick(ctx context.Context, at time.Time) int {
	at = at.Truncate(time.Minute)
	ran := 0
	for _, t := range r.tasks {
		if t.Every > 0 {
			continue
		}
		due, err := r.g.IsDue(t.Expr, at)
		if err != nil {
			r.log.Error().Err(err).Str("task", t.Name).Msg("cron expression")
			continue
		}
		if !due {
			continue
		}
		ran++
		r.runTask(ctx, t)
	}
	return ran
}

func (r *CronRunner) runTask(ctx context.Context, t Task) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	if err := t.Run(runCtx); err != nil {
		r.log.Error().Err(err).Str("task", t.Name).Msg("cron task failed")
		return
	}
	r.log.Debug().Str("task", t.Name).Dur("took", time.Since(start)).Msg("cron task done")
}
