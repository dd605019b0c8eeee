// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/leadflow/internal/campaigns"
	campaignspostgres "github.com/bissquit/leadflow/internal/campaigns/postgres"
	"github.com/bissquit/leadflow/internal/config"
	"github.com/bissquit/leadflow/internal/delivery"
	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/events"
	"github.com/bissquit/leadflow/internal/jobs"
	jobspostgres "github.com/bissquit/leadflow/internal/jobs/postgres"
	"github.com/bissquit/leadflow/internal/outreach"
	"github.com/bissquit/leadflow/internal/pkg/auth"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/bissquit/leadflow/internal/pkg/httputil"
	"github.com/bissquit/leadflow/internal/pkg/metrics"
	"github.com/bissquit/leadflow/internal/pkg/postgres"
	"github.com/bissquit/leadflow/internal/render"
	"github.com/bissquit/leadflow/internal/tasks"
	"github.com/bissquit/leadflow/internal/version"
	"github.com/bissquit/leadflow/internal/workflows"
	workflowspostgres "github.com/bissquit/leadflow/internal/workflows/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsInterval is how often pool and queue gauges are refreshed.
const metricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	components     *components
	bgCancel       context.CancelFunc
	consumerCancel context.CancelFunc
	consumerWg     sync.WaitGroup
}

// components are the long-lived services built from the configuration.
type components struct {
	jobs       *jobs.Service
	worker     *jobs.Worker
	engine     *workflows.Engine
	runner     *workflows.Runner
	campaigns  *campaigns.Service
	dispatcher *campaigns.Dispatcher
	scheduler  *tasks.Scheduler
	consumer   *events.Consumer
	auth       *auth.JWT

	jobsHandler      *jobs.Handler
	workflowsHandler *workflows.Handler
	campaignsHandler *campaigns.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	comps, err := buildComponents(cfg, db)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, err
	}
	app.components = comps

	go metrics.Poll(metricsCtx, metricsInterval, app.collectDBMetrics)
	go metrics.Poll(metricsCtx, metricsInterval, app.collectQueueMetrics)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func buildComponents(cfg *config.Config, db *pgxpool.Pool) (*components, error) {
	renderer, err := render.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	mailer, err := newMailer(cfg.Email)
	if err != nil {
		return nil, err
	}

	var notifier workflows.Notifier = delivery.LogNotifier{}
	if cfg.Notify.MattermostWebhookURL != "" {
		notifier = delivery.NewMattermostNotifier(delivery.MattermostConfig{
			WebhookURL: cfg.Notify.MattermostWebhookURL,
			Username:   cfg.Notify.Username,
			Timeout:    cfg.Notify.Timeout,
		})
	} else {
		slog.Warn("mattermost webhook is not configured: notify steps will only be logged")
	}

	c := &components{}

	// Job queue
	c.jobs = jobs.NewService(jobspostgres.NewRepository(db), jobs.ServiceConfig{
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Backoff: jobs.BackoffPolicy{
			Base:   cfg.Jobs.BaseBackoff,
			Factor: cfg.Jobs.BackoffFactor,
			Max:    cfg.Jobs.MaxBackoff,
		},
	})
	c.jobsHandler = jobs.NewHandler(c.jobs)

	// Workflows
	workflowsRepo := workflowspostgres.NewRepository(db)
	executor := workflows.NewExecutor(
		workflowsRepo,
		mailer,
		notifier,
		delivery.NewWebhookClient(cfg.Webhooks.Timeout),
		renderer,
		workflows.ExecutorConfig{StepTimeout: cfg.Webhooks.Timeout},
	)
	c.engine = workflows.NewEngine(workflowsRepo, executor, workflows.EngineConfig{
		ClaimLease: cfg.Workflows.ClaimLease,
	})
	c.runner = workflows.NewRunner(c.engine, workflows.RunnerConfig{
		PollInterval: cfg.Workflows.PollInterval,
		BatchSize:    cfg.Workflows.BatchSize,
	})
	c.workflowsHandler = workflows.NewHandler(workflows.NewService(workflowsRepo, renderer), c.engine)

	// Campaigns
	campaignsRepo := campaignspostgres.NewRepository(db)
	c.campaigns = campaigns.NewService(campaignsRepo, outreach.NewScheduler(nil))
	c.dispatcher = campaigns.NewDispatcher(
		campaignsRepo,
		c.campaigns,
		map[domain.Channel]delivery.Sender{domain.ChannelEmail: mailer},
		renderer,
		campaigns.DispatcherConfig{
			BatchSize:     cfg.Outreach.BatchSize,
			ClaimLease:    cfg.Outreach.ClaimLease,
			RatePerSecond: cfg.Outreach.RatePerSecond,
			Burst:         cfg.Outreach.Burst,
			SendTimeout:   cfg.Outreach.SendTimeout,
		},
	)
	c.campaignsHandler = campaigns.NewHandler(c.campaigns)

	// Job handlers and worker
	deps := tasks.Deps{Outreach: c.dispatcher}
	if cfg.AI.BaseURL != "" {
		deps.AI = tasks.NewAIClient(tasks.AIConfig{BaseURL: cfg.AI.BaseURL, Timeout: cfg.AI.Timeout})
	} else {
		slog.Warn("ai base url is not configured: embedding and research jobs are disabled")
	}
	registry := jobs.NewRegistry()
	if err := tasks.Register(registry, deps); err != nil {
		return nil, fmt.Errorf("register job handlers: %w", err)
	}
	c.worker = jobs.NewWorker(jobs.WorkerConfig{
		PollInterval:   cfg.Jobs.PollInterval,
		NumWorkers:     cfg.Jobs.Workers,
		HandlerTimeout: cfg.Jobs.HandlerTimeout,
		StaleAfter:     cfg.Jobs.HandlerTimeout + cfg.Jobs.StaleGrace,
	}, c.jobs, registry)

	if cfg.Outreach.DispatchSchedule != "" {
		c.scheduler, err = tasks.NewScheduler(cfg.Outreach.DispatchSchedule, c.jobs)
		if err != nil {
			return nil, fmt.Errorf("create outreach scheduler: %w", err)
		}
	}

	if cfg.Events.Enabled {
		c.consumer = events.NewConsumer(events.Config{
			URL:      cfg.Events.URL,
			Queue:    cfg.Events.Queue,
			Prefetch: cfg.Events.Prefetch,
		}, c.engine)
	}

	if cfg.Auth.Enabled {
		c.auth, err = auth.NewJWT(cfg.Auth.Secret, cfg.Auth.Issuer)
		if err != nil {
			return nil, fmt.Errorf("create token validator: %w", err)
		}
	} else {
		slog.Warn("authentication is disabled: every API caller is trusted")
	}

	return c, nil
}

func newMailer(cfg config.EmailConfig) (delivery.Sender, error) {
	if !cfg.Enabled {
		slog.Warn("email sender is disabled: emails will only be logged")
		return delivery.LogSender{Channel: string(domain.ChannelEmail)}, nil
	}
	sender, err := delivery.NewEmailSender(delivery.EmailConfig{
		Enabled:      true,
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		SMTPUser:     cfg.SMTPUser,
		SMTPPassword: cfg.SMTPPassword,
		FromAddress:  cfg.FromAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	return sender, nil
}

// Run starts the background processors and the HTTP servers.
func (a *App) Run() error {
	if err := a.startBackground(); err != nil {
		return err
	}

	go a.serveMetrics()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// RunWorkers starts the background processors and the metrics server
// without the API server, and returns once they are running.
func (a *App) RunWorkers() error {
	if err := a.startBackground(); err != nil {
		return err
	}
	go a.serveMetrics()
	return nil
}

func (a *App) serveMetrics() {
	a.logger.Info("starting metrics server",
		"host", a.config.Server.Host,
		"port", a.config.Server.MetricsPort,
	)
	if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.logger.Error("metrics server error", "error", err)
	}
}

func (a *App) startBackground() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel
	c := a.components

	if a.config.Jobs.Enabled {
		c.worker.Start(ctx)
	}
	if a.config.Workflows.Enabled {
		c.runner.Start(ctx)
	}
	if c.scheduler != nil {
		if err := c.scheduler.Start(); err != nil {
			cancel()
			return fmt.Errorf("start outreach scheduler: %w", err)
		}
	}
	if c.consumer != nil {
		consumerCtx, consumerCancel := context.WithCancel(ctx)
		a.consumerCancel = consumerCancel
		a.consumerWg.Add(1)
		go func() {
			defer a.consumerWg.Done()
			if err := c.consumer.Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("event consumer stopped", "error", err)
			}
		}()
	}
	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop producers of new work before the workers draining it. Workers
	// finish their current step under a live context, the shared one is
	// cancelled last.
	c := a.components
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if a.consumerCancel != nil {
		a.consumerCancel()
	}
	a.consumerWg.Wait()
	if a.config.Workflows.Enabled {
		c.runner.Stop()
	}
	if a.config.Jobs.Enabled {
		c.worker.Stop()
	}
	if a.bgCancel != nil {
		a.bgCancel()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(context.Context) {
	metrics.RecordDBPoolMetrics(a.db)
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	stats, err := a.components.jobs.Stats(ctx)
	if err != nil {
		a.logger.Error("failed to get queue stats", "error", err)
		return
	}
	jobs.RecordQueueStats(stats)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Leadflow API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	c := a.components

	r.Route("/api/v1", func(r chi.Router) {
		// Providers authenticate by URL, not bearer tokens
		c.campaignsHandler.RegisterWebhookRoutes(r)

		r.Group(func(r chi.Router) {
			if c.auth != nil {
				r.Use(httputil.AuthMiddleware(c.auth))
				r.Use(methodRoles(domain.RoleViewer, domain.RoleOperator))
			}

			c.jobsHandler.RegisterRoutes(r)
			c.workflowsHandler.RegisterRoutes(r)
			c.campaignsHandler.RegisterRoutes(r)
		})
	})

	return r
}

// methodRoles requires readRole for safe methods and writeRole for the rest.
func methodRoles(readRole, writeRole domain.Role) func(http.Handler) http.Handler {
	read := httputil.RequireRole(readRole)
	write := httputil.RequireRole(writeRole)
	return func(next http.Handler) http.Handler {
		readNext, writeNext := read(next), write(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				readNext.ServeHTTP(w, r)
			default:
				writeNext.ServeHTTP(w, r)
			}
		})
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Info())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
