// Package main provides the leadflow command line: the API server with its
// background processors, migrations and operator utilities.
package main

import (
	"fmt"
	"os"

	"github.com/bissquit/leadflow/internal/config"
	"github.com/bissquit/leadflow/internal/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "leadflow",
	Short:         "Leadflow job queue, workflow engine and outreach scheduler",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml",
		"Path to YAML config file (LEADFLOW_ environment variables override it)")

	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd, enqueueCmd, tokenCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
