package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rollcall/internal/audit"
	"rollcall/internal/dashboard"
	"rollcall/internal/handler"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/remote"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard web service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != "" {
			cfg.HTTPPort = servePort
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Override HTTP_PORT")
}

func localizer() roster.Localizer {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}
	return roster.Localizer{Location: loc, Layout: cfg.TimeLayout}
}

func runServe(ctx context.Context) error {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	client := remote.New(cfg.RemoteBaseURL, cfg.RemoteTimeout)
	checks := map[string]handler.HealthCheck{
		"remote": func(ctx context.Context) bool { return client.Health(ctx) == nil },
	}

	var redisClient *store.Redis
	if cfg.LoginStore == "redis" || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(store.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			Namespace: cfg.RedisNamespace,
		})
		defer redisClient.Close()
		checks["redis"] = redisClient.Healthy
	}

	var logins store.LoginStore = store.NewMemoryLogins()
	if cfg.LoginStore == "redis" {
		logins = redisClient.Logins()
	}

	var wg sync.WaitGroup
	consumeCtx, stopConsumer := context.WithCancel(context.Background())
	defer func() {
		stopConsumer()
		wg.Wait()
	}()

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		// persisted by cmd/worker
		q = queue.NewRedisQueue(redisClient.Client, redisClient.Key("audit"))
	} else {
		q = queue.NewInMemory(256)
		sink, closeSink := auditSink(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer closeSink()
			if err := audit.Consume(consumeCtx, q, sink, logger); err != nil {
				logger.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	dashboards := dashboard.NewRegistry(client, dashboard.Options{
		PollInterval: cfg.PollInterval,
		TickInterval: cfg.TickInterval,
		Localizer:    localizer(),
		Logger:       logger,
		Metrics:      m,
		Audit:        audit.NewRecorder(q, logger),
	})
	defer dashboards.CloseAll()

	h := handler.New(dashboards, logins, handler.Options{
		Issuer:       cfg.JWTIssuer,
		SigningKey:   cfg.JWTSigningKey,
		LoginTTL:     cfg.LoginTTL,
		SecureCookie: cfg.Production(),
		Checks:       checks,
		Logger:       logger,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger, "/healthz", "/metrics", "/api/dashboard/stream"))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Disposition", "X-Record-Count"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(httpmiddleware.SecurityHeaders(cfg.Production()))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := httpmiddleware.NewLoginLimiter(5, cfg.RateLimitPerMin)
	h.Routes(r, limiter.GinMiddleware())
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweepLimiter(consumeCtx, limiter)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweepDashboards(consumeCtx, dashboards)
	}()

	// request contexts end when shutdown starts so event streams let go
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("remote", cfg.RemoteBaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

// auditSink stores activity in Postgres when DATABASE_URL is reachable and
// logs it otherwise.
func auditSink(ctx context.Context) (audit.Sink, func()) {
	fallback := audit.LogSink{Log: logger}
	if cfg.DatabaseURL == "" {
		return fallback, func() {}
	}
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("db not reachable, logging activity instead", zap.Error(err))
		_ = db.Close()
		return fallback, func() {}
	}
	repo := audit.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		logger.Warn("audit migrate failed, logging activity instead", zap.Error(err))
		_ = db.Close()
		return fallback, func() {}
	}
	return repo, func() { _ = db.Close() }
}

func sweepLimiter(ctx context.Context, l *httpmiddleware.LoginLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// sweepDashboards closes dashboards whose login has expired so their
// pollers stop even when the teacher never logs out.
func sweepDashboards(ctx context.Context, reg *dashboard.Registry) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := reg.Sweep(now); n > 0 {
				logger.Info("expired dashboards closed", zap.Int("count", n))
			}
		}
	}
}
