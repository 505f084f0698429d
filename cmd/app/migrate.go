// File: cmd/app/migrate.go
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pg "turnpipe/internal/infra/db/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *pg.Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				fmt.Println("migrations applied")
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *pg.Migrator) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				fmt.Printf("rolled back %d migration(s)\n", max(steps, 1))
				return nil
			})
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *pg.Migrator) error {
				v, dirty, ok, err := m.Version()
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("no migrations applied")
					return nil
				}
				fmt.Printf("version: %d, dirty: %v\n", v, dirty)
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(fn func(m *pg.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return errors.New("migrations need database.driver postgres")
	}
	m, err := pg.NewMigrator(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}
