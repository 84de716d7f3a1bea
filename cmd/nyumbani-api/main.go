package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nyumbani/backend/pkg/api"
	"github.com/nyumbani/backend/pkg/config"
	"github.com/nyumbani/backend/pkg/observability"
	"github.com/nyumbani/backend/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger("error", true).WithError(err).Fatal("invalid configuration")
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.IsDevelopment())

	st, err := store.OpenPostgres(store.PostgresConfig{
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnTimeout:  cfg.Database.ConnTimeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer st.Close()

	// Rate limiting is optional; without Redis the credential endpoints
	// are served unthrottled.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Fatal("invalid REDIS_URL")
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, rate limiting will fail open")
		}
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	server := api.NewServer(cfg, logger, st, redisClient, metrics)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: metricsHandler(metrics, st),
	}

	go func() {
		logger.WithField("addr", metricsServer.Addr).Info("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":        apiServer.Addr,
			"environment": cfg.Environment,
		}).Info("Nyumbani Backend API listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shut down cleanly")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shut down metrics server")
	}
	logger.Info("server stopped")
}

// metricsHandler serves the Prometheus exposition and a liveness check
// that pings the database.
func metricsHandler(metrics *observability.Metrics, st store.Store) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
