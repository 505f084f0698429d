// File: cmd/app/enqueue.go
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"turnpipe/internal/domain/model"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/usecase"
)

// enqueueCmd pushes a job by hand, for replaying a conversation after an
// outage or poking a stuck one.
func enqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a pipeline job",
	}

	var conversationID string
	var delay time.Duration
	debounce := &cobra.Command{
		Use:   "debounce",
		Short: "Enqueue a debounce job for one conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID == "" {
				return errors.New("--conversation is required")
			}
			return enqueue(cmd, model.DebounceTurnPayload{ConversationID: conversationID}, delay)
		},
	}
	debounce.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation id")
	debounce.Flags().DurationVar(&delay, "delay", 0, "schedule the job this far in the future")
	cmd.AddCommand(debounce)

	var turnID string
	runAgent := &cobra.Command{
		Use:   "run-agent",
		Short: "Enqueue an agent run for a queued turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			if turnID == "" {
				return errors.New("--turn is required")
			}
			return enqueue(cmd, model.RunAgentPayload{TurnID: turnID}, 0)
		},
	}
	runAgent.Flags().StringVarP(&turnID, "turn", "t", "", "turn id")
	cmd.AddCommand(runAgent)
	return cmd
}

func enqueue(cmd *cobra.Command, p model.JobPayload, delay time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return errors.New("enqueue needs a shared store: set database.driver postgres")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	ctx, cancel := contextWithTimeout(cmd, 10*time.Second)
	defer cancel()

	a := &app{cfg: cfg, log: logger}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	defer a.Close()

	q := usecase.NewJobQueue(a.store.Jobs(), cfg.Pipeline.MaxAttempts)
	id, err := q.Enqueue(ctx, nil, p, usecase.At(time.Now().Add(delay)))
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s job %s\n", p.JobType(), id)
	return nil
}
