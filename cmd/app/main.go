// File: cmd/app/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"turnpipe/internal/config"
	"turnpipe/internal/infra/logging"
)

// Set by -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	cfgPath string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:   "turnpipe",
	Short: "Turnpipe: debounced conversational turn pipeline",
	// serve is the default action
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode (full texts in logs, sandbox deliveries)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(versionCmd())
}

// loadConfig reads the file named by --config plus TURNPIPE_* env vars.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath, devMode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("turnpipe %s (%s)\n", Version, Commit)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.New(config.LogConfig{Level: "error", Format: "console"}, false).
			Error().Err(err).Msg("turnpipe exited")
		os.Exit(1)
	}
}
