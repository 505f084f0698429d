// File: cmd/app/token.go
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"turnpipe/internal/infra/api"
)

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator JWT for the monitor API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := api.NewAuthManager(cfg.HTTP.JWTSecret, cfg.HTTP.JWTIssuer).Mint(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
