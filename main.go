package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/config"
	"github.com/conductor-labs/delegate/internal/delegation"
	"github.com/conductor-labs/delegate/internal/executor"
	"github.com/conductor-labs/delegate/internal/health"
	"github.com/conductor-labs/delegate/internal/httpapi"
	"github.com/conductor-labs/delegate/internal/journal"
	"github.com/conductor-labs/delegate/internal/registry"
	"github.com/conductor-labs/delegate/internal/resources"
	"github.com/conductor-labs/delegate/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, v, err := config.Load("")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ledger := resources.NewLedger(cfg.Resources, logger)
	reg := registry.New(logger)

	runtime := store.Runtime{
		Ledger:     ledger,
		Confidence: cfg.Confidence,
	}

	// Health endpoints come up early on their own listener so probes
	// respond while the slower collaborators (Redis, Postgres) are still
	// connecting, and are never rate limited.
	hm := health.NewManager(logger)
	healthMux := http.NewServeMux()
	hm.RegisterRoutes(healthMux)
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler: healthMux,
	}
	go func() {
		logger.Info("Health server listening", zap.Int("port", cfg.Server.HealthPort))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server failed", zap.Error(err))
		}
	}()

	var st *store.Store
	if cfg.Redis.Addr != "" {
		st, err = store.New(cfg.Redis.Addr, runtime, logger)
		if err != nil {
			logger.Fatal("Failed to connect pattern store", zap.Error(err))
		}
		defer st.Close()

		loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := st.Load(loadCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to load pattern store", zap.Error(err))
		}
		logger.Info("pattern store ready",
			zap.String("addr", cfg.Redis.Addr),
			zap.Int("patterns", n),
		)
		hm.Register("store", st.Ping)
	} else {
		logger.Info("no redis address configured, running registry-only")
	}

	var jr *journal.Journal
	if cfg.Journal.DSN != "" {
		jr, err = journal.New(cfg.Journal.DSN, logger)
		if err != nil {
			logger.Fatal("Failed to open outcome journal", zap.Error(err))
		}
		defer jr.Close()
		hm.Register("journal", jr.Ping)
		logger.Info("outcome journal ready")
	}

	opts := []executor.Option{}
	if st != nil {
		opts = append(opts, executor.WithStore(st))
	}
	if jr != nil {
		opts = append(opts, executor.WithJournal(jr))
	}
	exec := executor.New(reg, logger, opts...)

	mux := http.NewServeMux()
	api := httpapi.NewHandler(reg, st, exec, runtime, logger)
	api.RegisterRoutes(mux)

	limiter := httpapi.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      limiter.Middleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Live-tunable settings follow the config file; structural settings
	// (redis addr, journal DSN, ports) need a restart.
	config.Watch(v, logger, func(next *config.Config) {
		ledger.SetCapacities(next.Resources)
		reg.Range(func(p delegation.Pattern) bool {
			if err := p.Tracker().UpdateConfig(next.Confidence); err != nil {
				logger.Warn("failed to retune tracker",
					zap.String("pattern", p.Name()), zap.Error(err))
			}
			return true
		})
		logger.Info("applied configuration change")
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", zap.String("signal", s.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown error", zap.Error(err))
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown error", zap.Error(err))
	}
}
