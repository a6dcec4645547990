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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Dharshni15/job/internal/auth"
	"github.com/Dharshni15/job/internal/config"
	"github.com/Dharshni15/job/internal/domain"
	"github.com/Dharshni15/job/internal/notifications"
	"github.com/Dharshni15/job/internal/notifications/email"
	notificationspostgres "github.com/Dharshni15/job/internal/notifications/postgres"
	"github.com/Dharshni15/job/internal/notifications/ses"
	"github.com/Dharshni15/job/internal/pkg/httputil"
	"github.com/Dharshni15/job/internal/pkg/lease"
	"github.com/Dharshni15/job/internal/pkg/metrics"
	"github.com/Dharshni15/job/internal/pkg/postgres"
	"github.com/Dharshni15/job/internal/pkg/redis"
	"github.com/Dharshni15/job/internal/users"
	"github.com/Dharshni15/job/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redisClient   *goredis.Client
	server        *http.Server
	metricsServer *http.Server
	scheduler     *notifications.Scheduler
	processor     *notifications.Processor
	bgCancel      context.CancelFunc
}

// New creates a new application instance: it connects to the database,
// applies migrations, wires the delivery pipeline and builds the HTTP
// surface. Transport configuration errors surface here, at startup.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

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

	app := &App{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Single-flight leases: distributed when Redis is configured,
	// in-process otherwise.
	var locker lease.Locker
	if cfg.Redis.Enabled {
		client, err := redis.Connect(connectCtx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		app.redisClient = client
		locker = lease.NewRedis(client)
	} else {
		locker = lease.NewLocal()
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	app.bgCancel = bgCancel

	router, err := app.setupPipeline(bgCtx, locker)
	if err != nil {
		app.closeClients()
		bgCancel()
		return nil, err
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
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

// Run starts the HTTP servers and the pipeline scheduler.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.bgCancel()

	// Stop the scheduler first so no new processing batches begin while
	// the servers drain.
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

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

	a.closeClients()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Processor returns the queue processor instance, for tests.
func (a *App) Processor() *notifications.Processor {
	return a.processor
}

func (a *App) closeClients() {
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	a.db.Close()
}

// setupPipeline wires the delivery pipeline and returns the API router.
func (a *App) setupPipeline(ctx context.Context, locker lease.Locker) (*chi.Mux, error) {
	repo := notificationspostgres.NewRepository(a.db)
	resolver := users.NewResolver(a.db)

	sender, err := a.buildSender(ctx)
	if err != nil {
		return nil, fmt.Errorf("create sender: %w", err)
	}

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	processor, err := notifications.NewProcessor(notifications.ProcessorConfig{
		BatchSize:      a.config.Queue.BatchSize,
		SendTimeout:    a.config.Queue.SendTimeout,
		RetryDelay:     a.config.Queue.RetryDelay,
		StaleThreshold: a.config.Queue.StaleThreshold,
		RetentionAge:   a.config.Queue.RetentionAge,
	}, repo, renderer, sender, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}
	a.processor = processor

	weeklyDay, err := a.config.Digest.WeekdayOf()
	if err != nil {
		return nil, err
	}
	digest := notifications.NewDigestGenerator(notifications.DigestConfig{
		DailyAt:   a.config.Digest.DailyAt,
		WeeklyDay: weeklyDay,
		WeeklyAt:  a.config.Digest.WeeklyAt,
		Timezone:  a.config.Digest.Timezone,
		MaxItems:  a.config.Digest.MaxItems,
	}, repo, resolver, a.logger)

	service := notifications.NewService(repo, resolver, a.logger)

	// Jobs orphaned by a previous crash go back to pending before the
	// first tick.
	processor.RecoverStale(ctx)

	scheduler := notifications.NewScheduler(locker, a.logger)
	scheduler.Add("queue_processor", a.config.Queue.PollInterval, processor.Tick)
	scheduler.Add("digest_daily", time.Minute, digest.TickDaily)
	scheduler.Add("digest_weekly", time.Minute, digest.TickWeekly)
	scheduler.Add("retention_sweep", a.config.Queue.RetentionInterval, processor.RetentionSweep)
	scheduler.Start(ctx)
	a.scheduler = scheduler

	go a.collectDBMetrics(ctx)
	go a.collectQueueMetrics(ctx, repo)

	authenticator := auth.NewAuthenticator(auth.Config{
		SecretKey:     a.config.Auth.SecretKey,
		TokenDuration: a.config.Auth.TokenDuration,
	})

	handler := notifications.NewHandler(service, processor)

	return a.setupRouter(handler, authenticator), nil
}

// buildSender constructs the configured outbound transport.
func (a *App) buildSender(ctx context.Context) (notifications.Sender, error) {
	switch a.config.Email.Provider {
	case "smtp":
		return email.NewSender(email.Config{
			Host:        a.config.Email.SMTP.Host,
			Port:        a.config.Email.SMTP.Port,
			User:        a.config.Email.SMTP.User,
			Password:    a.config.Email.SMTP.Password,
			FromAddress: a.config.Email.SMTP.FromAddress,
		})
	case "ses":
		return ses.NewSender(ctx, ses.Config{
			Region:      a.config.Email.SES.Region,
			FromAddress: a.config.Email.SES.FromAddress,
		})
	case "log":
		a.logger.Warn("using log sender: no email will actually be delivered")
		return notifications.NewLogSender(a.logger), nil
	}
	return nil, fmt.Errorf("unknown email provider %q", a.config.Email.Provider)
}

func (a *App) setupRouter(handler *notifications.Handler, authenticator *auth.Authenticator) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(authenticator))

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleService))
			r.Use(httputil.RateLimitMiddleware(a.config.RateLimit.RPS, a.config.RateLimit.Burst))
			handler.RegisterRoutes(r)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleAdmin))
			handler.RegisterAdminRoutes(r)
		})
	})

	return r
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, repo notifications.Repository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.GetQueueStats(ctx)
			if err != nil {
				a.logger.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		a.logger.Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
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

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
