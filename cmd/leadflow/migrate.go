package main

import (
	"fmt"

	"github.com/bissquit/leadflow/internal/pkg/postgres"
	"github.com/spf13/cobra"
)

var (
	migrationsSource string
	migrateDownSteps int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return postgres.MigrateUp(cfg.Database.URL, migrationsSource)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the given number of migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		if migrateDownSteps <= 0 {
			return fmt.Errorf("--steps must be positive, got %d", migrateDownSteps)
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return postgres.MigrateDown(cfg.Database.URL, migrationsSource, migrateDownSteps)
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsSource, "source", "file://migrations", "Migrations source URL")
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "Number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
