package sched

import (
	"context"
	"time"

	"turnpipe/internal/usecase"
)

// MaintenanceTasks schedules the state sweep on a cron expression and orphan
// recovery on a fixed interval, which must stay below the recovery scan span
// for every orphan to be seen.
func MaintenanceTasks(uc usecase.MaintenanceUseCase, sweepExpr string, recoveryEvery time.Duration) []Task {
	return []Task{
		{
			Name: "state-sweep",
			Expr: sweepExpr,
			Run: func(ctx context.Context) error {
				_, err := uc.SweepStates(ctx)
				return err
			},
		},
		{
			Name:  "orphan-recovery",
			Every: recoveryEvery,
			Run: func(ctx context.Context) error {
				_, err := uc.RecoverOrphans(ctx)
				return err
			},
		},
		{
			Name: "job-gauges",
			Expr: "* * * * *",
			Run:  uc.RefreshJobGauges,
		},
	}
}
