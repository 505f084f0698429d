// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// A small pool that runs the same long-lived task on n goroutines, used to
// race several pollers against one job store.

type Task func(ctx context.Context) error

type Pool struct {
	n   int
	log *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{n: workers, log: &l}
}

func (p *Pool) Size() int { return p.n }

// Run starts n copies of task and blocks until all of them return. A worker
// that fails is logged; the others keep running.
func (p *Pool) Run(ctx context.Context, task Task) {
	var wg sync.WaitGroup
	for i := 0; i < p.n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := task(ctx); err != nil {
				p.log.Error().Err(err).Int("worker", id).Msg("worker task error")
			}
		}(i)
	}
	wg.Wait()
}

// Pollers runs one Scheduler.Run per pool slot.
func (p *Pool) Pollers(ctx context.Context, s *Scheduler) {
	p.log.Info().Int("pollers", p.n).Msg("starting pollers")
	p.Run(ctx, s.Run)
}
