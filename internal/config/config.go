// Package config loads application configuration from a YAML file and
// LEADFLOW_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// EnvPrefix prefixes every environment variable read by Load. A double
// underscore separates nesting levels: LEADFLOW_DATABASE__URL sets
// database.url.
const EnvPrefix = "LEADFLOW_"

// Config is the application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
	CORS      CORSConfig      `koanf:"cors"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Workflows WorkflowsConfig `koanf:"workflows"`
	Outreach  OutreachConfig  `koanf:"outreach"`
	Email     EmailConfig     `koanf:"email"`
	Notify    NotifyConfig    `koanf:"notify"`
	Webhooks  WebhooksConfig  `koanf:"webhooks"`
	AI        AIConfig        `koanf:"ai"`
	Events    EventsConfig    `koanf:"events"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig configures bearer token verification. Auth is off when
// Enabled is false, which is only meant for local development.
type AuthConfig struct {
	Enabled bool   `koanf:"enabled"`
	Secret  string `koanf:"secret"`
	Issuer  string `koanf:"issuer"`
}

// CORSConfig configures allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// JobsConfig configures the job queue and its worker.
type JobsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Workers        int           `koanf:"workers"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	MaxAttempts    int           `koanf:"max_attempts"`
	BaseBackoff    time.Duration `koanf:"base_backoff"`
	BackoffFactor  float64       `koanf:"backoff_factor"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
	StaleGrace     time.Duration `koanf:"stale_grace"`
}

// WorkflowsConfig configures the enrollment runner.
type WorkflowsConfig struct {
	Enabled      bool          `koanf:"enabled"`
	PollInterval time.Duration `koanf:"poll_interval"`
	BatchSize    int           `koanf:"batch_size"`
	ClaimLease   time.Duration `koanf:"claim_lease"`
}

// OutreachConfig configures campaign dispatch.
type OutreachConfig struct {
	// DispatchSchedule is a cron spec; empty disables periodic dispatch.
	DispatchSchedule string        `koanf:"dispatch_schedule"`
	BatchSize        int           `koanf:"batch_size"`
	ClaimLease       time.Duration `koanf:"claim_lease"`
	RatePerSecond    float64       `koanf:"rate_per_second"`
	Burst            int           `koanf:"burst"`
	SendTimeout      time.Duration `koanf:"send_timeout"`
}

// EmailConfig configures the SMTP sender. When disabled, email is logged
// instead of sent.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// NotifyConfig configures the Mattermost notifier used by notify steps.
type NotifyConfig struct {
	MattermostWebhookURL string        `koanf:"mattermost_webhook_url"`
	Username             string        `koanf:"username"`
	Timeout              time.Duration `koanf:"timeout"`
}

// WebhooksConfig configures outbound webhook steps.
type WebhooksConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// AIConfig configures the AI collaborator. An empty BaseURL disables the
// AI job types.
type AIConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// EventsConfig configures the AMQP business event consumer.
type EventsConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Queue    string `koanf:"queue"`
	Prefetch int    `koanf:"prefetch"`
}

// Default returns the configuration used for keys absent from every source.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			Enabled: true,
			Issuer:  "leadflow",
		},
		Jobs: JobsConfig{
			Enabled:        true,
			Workers:        4,
			PollInterval:   time.Second,
			MaxAttempts:    3,
			BaseBackoff:    30 * time.Second,
			BackoffFactor:  4,
			MaxBackoff:     24 * time.Hour,
			HandlerTimeout: 5 * time.Minute,
			StaleGrace:     time.Minute,
		},
		Workflows: WorkflowsConfig{
			Enabled:      true,
			PollInterval: 10 * time.Second,
			BatchSize:    100,
			ClaimLease:   5 * time.Minute,
		},
		Outreach: OutreachConfig{
			DispatchSchedule: "* * * * *",
			BatchSize:        100,
			ClaimLease:       10 * time.Minute,
			RatePerSecond:    5,
			Burst:            5,
			SendTimeout:      30 * time.Second,
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
		Notify: NotifyConfig{
			Username: "leadflow",
			Timeout:  10 * time.Second,
		},
		Webhooks: WebhooksConfig{
			Timeout: 10 * time.Second,
		},
		AI: AIConfig{
			Timeout: 60 * time.Second,
		},
		Events: EventsConfig{
			Queue:    "leadflow.events",
			Prefetch: 10,
		},
	}
}

// Load reads path (skipped when empty or missing) and then LEADFLOW_
// environment variables over Default, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps LEADFLOW_JOBS__MAX_ATTEMPTS to jobs.max_attempts.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is invalid", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is invalid", c.Log.Format))
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required when auth is enabled"))
	}

	if c.Jobs.Workers <= 0 {
		errs = append(errs, errors.New("jobs.workers must be positive"))
	}
	if c.Jobs.PollInterval <= 0 {
		errs = append(errs, errors.New("jobs.poll_interval must be positive"))
	}
	if c.Jobs.MaxAttempts <= 0 {
		errs = append(errs, errors.New("jobs.max_attempts must be positive"))
	}
	if c.Jobs.BaseBackoff <= 0 || c.Jobs.BackoffFactor < 1 {
		errs = append(errs, errors.New("jobs.base_backoff must be positive and jobs.backoff_factor at least 1"))
	}
	if c.Jobs.HandlerTimeout <= 0 {
		errs = append(errs, errors.New("jobs.handler_timeout must be positive"))
	}

	if c.Workflows.PollInterval <= 0 || c.Workflows.BatchSize <= 0 {
		errs = append(errs, errors.New("workflows.poll_interval and workflows.batch_size must be positive"))
	}
	if c.Workflows.ClaimLease <= 0 {
		errs = append(errs, errors.New("workflows.claim_lease must be positive"))
	}

	if c.Outreach.DispatchSchedule != "" {
		if _, err := cron.ParseStandard(c.Outreach.DispatchSchedule); err != nil {
			errs = append(errs, fmt.Errorf("outreach.dispatch_schedule: %w", err))
		}
	}
	if c.Outreach.RatePerSecond <= 0 {
		errs = append(errs, errors.New("outreach.rate_per_second must be positive"))
	}

	if c.Email.Enabled && (c.Email.SMTPHost == "" || c.Email.FromAddress == "") {
		errs = append(errs, errors.New("email.smtp_host and email.from_address are required when email is enabled"))
	}
	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, errors.New("events.url is required when events are enabled"))
	}

	return errors.Join(errs...)
}
