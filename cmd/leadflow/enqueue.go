package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bissquit/leadflow/internal/jobs"
	jobspostgres "github.com/bissquit/leadflow/internal/jobs/postgres"
	"github.com/bissquit/leadflow/internal/pkg/postgres"
	"github.com/spf13/cobra"
)

var (
	enqueuePayload     string
	enqueueDelay       time.Duration
	enqueueMaxAttempts int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <type>",
	Short: "Add a job to the queue",
	Example: `  leadflow enqueue process_outreach --payload '{"campaignId":"8f0c..."}'
  leadflow enqueue research_lead --payload '{"leadId":42}' --delay 10m`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "{}", "Job payload as a JSON object")
	enqueueCmd.Flags().DurationVar(&enqueueDelay, "delay", 0, "Delay before the job becomes due")
	enqueueCmd.Flags().IntVar(&enqueueMaxAttempts, "max-attempts", 0, "Attempt limit (0 uses the configured default)")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	var payload map[string]any
	if err := json.Unmarshal([]byte(enqueuePayload), &payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Database.ConnectTimeout)
	defer cancel()

	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ApplicationName: "leadflow-cli",
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	service := jobs.NewService(jobspostgres.NewRepository(db), jobs.ServiceConfig{
		MaxAttempts: cfg.Jobs.MaxAttempts,
	})

	opts := jobs.EnqueueOptions{MaxAttempts: enqueueMaxAttempts}
	if enqueueDelay > 0 {
		opts.ScheduledAt = time.Now().Add(enqueueDelay)
	}

	id, err := service.Enqueue(ctx, args[0], payload, opts)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", args[0], err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
