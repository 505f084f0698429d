// File: cmd/app/seed.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"turnpipe/internal/flow"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/usecase"
)

// seedCmd loads a flow file into the store as the session's draft and
// optionally publishes it.
func seedCmd() *cobra.Command {
	var sessionID, file string
	var publish bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store a flow file as a session draft (and publish it with --publish)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" || file == "" {
				return errors.New("--session and --file are required")
			}
			b, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read flow: %w", err)
			}
			fc, err := flow.ParseFlow(b, strings.ToLower(filepath.Ext(file)))
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return errors.New("seed needs a shared store: set database.driver postgres")
			}
			logger := logging.New(cfg.Log, cfg.Runtime.Dev)
			ctx, cancel := contextWithTimeout(cmd, 10*time.Second)
			defer cancel()

			a := &app{cfg: cfg, log: logger}
			if err := a.openStore(ctx); err != nil {
				return err
			}
			defer a.Close()
			if err := a.openRedis(ctx); err != nil {
				return err
			}

			var hooks []usecase.FlowInvalidation
			if a.bus != nil {
				hooks = append(hooks, func(ctx context.Context, sid string) {
					if err := a.bus.Publish(ctx, sid); err != nil {
						logger.Warn().Err(err).Msg("flow invalidation publish failed")
					}
				})
			}
			admin := usecase.NewFlowAdminUseCase(a.store.Flows(), a.store.RuntimeConfigs(), logger, hooks...)

			draft, err := admin.SaveDraft(ctx, sessionID, *fc)
			if err != nil {
				return err
			}
			fmt.Printf("saved draft v%d for session %s\n", draft.Version, sessionID)
			if !publish {
				return nil
			}
			pub, err := admin.Publish(ctx, sessionID)
			if err != nil {
				return err
			}
			fmt.Printf("published v%d for session %s\n", pub.Version, sessionID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id")
	cmd.Flags().StringVarP(&file, "file", "f", "", "flow file (.yaml, .yml, .json5 or .json)")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the draft right away")
	return cmd
}
