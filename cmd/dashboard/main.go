// Command dashboard serves the Pabbly Hook dashboard API.
//
// It fronts the analytics service for the browser app: aggregate and
// per-section analytics loads (cached in Redis, persisted as snapshots in
// PostgreSQL or SQLite), the connection, team member, SMTP account and
// integration lists, an activity feed shared between instances over Kafka,
// and health probes for the backend and the analytics service.
//
// Usage:
//
//	go run ./cmd/dashboard [-config configs/development.yaml] [-env .env]
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pabbly/hookdash/internal/activity"
	"github.com/pabbly/hookdash/internal/analytics/cache"
	"github.com/pabbly/hookdash/internal/analytics/client"
	"github.com/pabbly/hookdash/internal/analytics/snapshot"
	"github.com/pabbly/hookdash/internal/auth/ratelimit"
	"github.com/pabbly/hookdash/internal/credentials"
	"github.com/pabbly/hookdash/internal/dashboard/handler"
	dashmw "github.com/pabbly/hookdash/internal/dashboard/middleware"
	"github.com/pabbly/hookdash/internal/dashboard/router"
	"github.com/pabbly/hookdash/internal/dashboard/service"
	"github.com/pabbly/hookdash/internal/probe"
	"github.com/pabbly/hookdash/pkg/config"
	"github.com/pabbly/hookdash/pkg/health"
	"github.com/pabbly/hookdash/pkg/kafka"
	"github.com/pabbly/hookdash/pkg/logger"
	"github.com/pabbly/hookdash/pkg/metrics"
	"github.com/pabbly/hookdash/pkg/postgres"
	pkgredis "github.com/pabbly/hookdash/pkg/redis"
	"github.com/pabbly/hookdash/pkg/resilience"
	"github.com/pabbly/hookdash/pkg/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	envFile := flag.String("env", ".env", "optional KEY=VALUE file loaded before the config")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	instance := instanceID()
	slog.Info("starting dashboard service",
		"port", cfg.Server.Port,
		"instance", instance,
		"analytics_url", cfg.API.AnalyticsURL,
		"backend_url", cfg.API.BackendURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	checker := health.NewChecker()

	// Analytics client. Requests carry the caller's token, falling back to
	// the stored one for server-initiated loads.
	tokens := credentials.FromContext()
	if cfg.API.TokenFile != "" {
		tokens = credentials.Chain(tokens, credentials.FileStore(cfg.API.TokenFile))
	}
	clientOpts := []client.Option{
		client.WithTokenProvider(tokens),
		client.WithMetrics(m),
		client.WithTracing(cfg.Tracing.Enabled),
	}
	if cb := cfg.API.CircuitBreaker; cb.Enabled {
		clientOpts = append(clientOpts, client.WithCircuitBreaker("analytics", resilience.CircuitBreakerConfig{
			FailureThreshold: cb.FailureThreshold,
			ResetTimeout:     cb.ResetTimeout,
			OnStateChange: func(name string, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		}))
	}
	apiClient := client.New(client.Config{
		BaseURL: cfg.API.AnalyticsURL,
		Timeout: cfg.API.RequestTimeout,
		Retry: resilience.RetryConfig{
			MaxAttempts:  cfg.API.Retry.MaxAttempts,
			InitialDelay: cfg.API.Retry.InitialDelay,
			MaxDelay:     cfg.API.Retry.MaxDelay,
		},
	}, clientOpts...)
	slog.Info("analytics client ready",
		"base_url", apiClient.BaseURL(),
		"retry_attempts", cfg.API.Retry.MaxAttempts,
		"circuit_breaker", cfg.API.CircuitBreaker.Enabled,
	)
	if cb := apiClient.Breaker(); cb != nil {
		checker.Register("analytics-circuit", breakerCheck(cb))
	}

	svcOpts := []service.Option{service.WithMetrics(m)}

	if cfg.Redis.Enabled {
		rdb, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		checker.Register("redis", health.Ping(rdb.Ping))
		svcOpts = append(svcOpts, service.WithCache(cache.New(rdb, cfg.Redis.CacheTTL, m)))
		slog.Info("analytics cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	if cfg.Snapshots.Enabled {
		db, err := openSnapshotDB(cfg)
		if err != nil {
			slog.Error("failed to open snapshot database", "driver", cfg.Snapshots.Driver, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store, err := snapshot.NewStore(ctx, db, cfg.Snapshots.Driver)
		if err != nil {
			slog.Error("failed to prepare snapshot store", "error", err)
			os.Exit(1)
		}
		checker.Register("snapshots", health.Ping(store.Ping))
		svcOpts = append(svcOpts, service.WithSnapshots(store, cfg.Snapshots.Retain))
		slog.Info("analytics snapshots enabled", "driver", cfg.Snapshots.Driver)
	}

	feedOpts := []activity.Option{activity.WithMetrics(m)}
	var publisher *activity.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Activity)
		publisher = activity.NewPublisher(producer, 0, 0)
		publisher.Start(ctx)
		feedOpts = append(feedOpts, activity.WithPublisher(publisher))
	}
	feed := activity.NewFeed(instance, feedOpts...)

	if cfg.Kafka.Enabled {
		// Every instance reads the whole activity topic, so each gets its own
		// consumer group.
		peers := cfg.Kafka
		peers.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-" + instance
		go runConsumer(ctx, kafka.NewConsumer(peers, cfg.Kafka.Topics.Activity, feed.HandleMessage))
		if cfg.Kafka.Topics.ActivityIngest != "" {
			go runConsumer(ctx, kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ActivityIngest, feed.HandleMessage))
		}
	}

	svc := service.New(apiClient, feed, svcOpts...)

	prober := probe.New(probe.Config{
		BackendURL:   cfg.API.BackendURL,
		AnalyticsURL: cfg.API.AnalyticsURL,
		APIKey:       cfg.API.APIKey,
	}, probe.WithMetrics(m))
	for name, check := range prober.Checks() {
		checker.Register(name, check)
	}

	proxies, err := dashmw.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		slog.Error("invalid rateLimit.trustedProxies", "error", err)
		os.Exit(1)
	}
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limiter = ratelimit.New(cfg.RateLimit.RequestsPerMinute, time.Minute)
		defer limiter.Stop()
	}

	cors := dashmw.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.AllowOrigins
	chain := router.New(handler.New(svc, prober), svc, checker, router.Config{
		CORS:           cors,
		RequireToken:   cfg.Server.RequireToken,
		Limiter:        limiter,
		TrustedProxies: proxies,
		Metrics:        m,
		HandlerTimeout: cfg.Server.HandlerTimeout,
	})

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, nil)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			shutdownMetrics(shutdownCtx)
		}
	}()

	slog.Info("dashboard service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			slog.Error("activity publisher close error", "error", err)
		}
	}
	slog.Info("dashboard service stopped")
}

func openSnapshotDB(cfg *config.Config) (*sql.DB, error) {
	switch cfg.Snapshots.Driver {
	case postgres.DriverName:
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return pg.DB, nil
	default:
		return sqlite.Open(cfg.Snapshots.SQLitePath)
	}
}

// breakerCheck reports an open analytics circuit as degraded: the dashboard
// still serves snapshots and records while it is open.
func breakerCheck(cb *resilience.CircuitBreaker) health.Check {
	return func(context.Context) health.ComponentHealth {
		c := cb.Counts()
		if c.State == resilience.StateClosed {
			return health.ComponentHealth{Status: health.StatusUp}
		}
		return health.ComponentHealth{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("%s circuit %s after %d failures", cb.Name(), c.StateName, c.ConsecutiveFailures),
		}
	}
}

func runConsumer(ctx context.Context, c *kafka.Consumer) {
	if err := c.Start(ctx); err != nil {
		slog.Error("activity consumer stopped", "error", err)
	}
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "dashboard"
	}
	return host + "-" + uuid.NewString()[:8]
}
