// File: cmd/app/poll.go
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"turnpipe/internal/domain"
	"turnpipe/internal/infra/logging"
)

// pollCmd runs one bounded batch of due jobs and exits; it is what a cron
// job or serverless trigger calls instead of the long-running pollers.
func pollCmd() *cobra.Command {
	var budget int
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run up to --budget due jobs once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log, cfg.Runtime.Dev)
			if budget <= 0 {
				budget = cfg.Pipeline.PollBudget
			}
			if timeout <= 0 {
				timeout = cfg.HTTP.PollTimeout
			}

			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			n, err := a.scheduler.RunOnce(ctx, budget)
			took := time.Since(start).Round(time.Millisecond)
			switch {
			case err == nil:
				fmt.Printf("processed %d job(s) in %s (budget %d)\n", n, took, budget)
			case errors.Is(err, domain.ErrJobFailed):
				// the failed job is already recorded; the batch just ends early
				fmt.Printf("processed %d job(s) in %s (budget %d), stopped by a failed job: %v\n", n, took, budget, err)
			default:
				return fmt.Errorf("poll after %d job(s): %w", n, err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&budget, "budget", "b", 0, "max jobs to run (default: pipeline.poll_budget)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline (default: http.poll_timeout)")
	return cmd
}
