// Package main provides the audit relay entry point. It publishes committed
// submission outbox entries to Redpanda.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxportal/internal/config"
	"github.com/drfirst/go-rxportal/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxportal/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxportal/internal/observability/logging"
	"github.com/drfirst/go-rxportal/internal/observability/metrics"
	"github.com/drfirst/go-rxportal/internal/observability/tracing"
)

const serviceName = "audit-relay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg := tracing.DefaultConfig(serviceName)
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.OTLPEndpoint = cfg.Tracing.Endpoint
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tracingCfg.Environment = cfg.Tracing.Environment
	tp, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	pool, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}
	logger.Info("connected to database")

	if err := redpanda.HealthCheck(ctx, cfg.Kafka.Brokers); err != nil {
		logger.Fatal("redpanda unreachable", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
	}
	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx, int16(cfg.Kafka.ReplicationFactor)); err != nil {
		logger.Fatal("failed to ensure topics", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))

	m := metrics.New()

	outbox := postgres.NewOutbox(pool, producer, postgres.OutboxConfig{
		BatchSize:       cfg.Outbox.BatchSize,
		PollInterval:    cfg.Outbox.PollInterval,
		MaxRetries:      cfg.Outbox.MaxRetries,
		DeadLetterTopic: redpanda.TopicDeadLetter,
	}, m, logger)
	outbox.Start()

	maintenanceDone := make(chan struct{})
	go func() {
		defer close(maintenanceDone)
		runMaintenance(ctx, outbox, cfg.Outbox, logger)
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Relay.Port,
		Handler:           statusRouter(pool, producer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("starting status server", zap.String("port", cfg.Relay.Port))
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown error", zap.Error(err))
	}
	outbox.Stop()
	<-maintenanceDone
	logger.Info("audit relay stopped")
}

// runMaintenance dead-letters exhausted entries, prunes relayed ones and
// refreshes the pending gauge until ctx is done
func runMaintenance(ctx context.Context, outbox *postgres.Outbox, cfg config.OutboxConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := outbox.MoveToDeadLetter(ctx); err != nil {
			logger.Error("dead letter pass failed", zap.Error(err))
		} else if n > 0 {
			logger.Warn("outbox entries dead-lettered", zap.Int64("count", n))
		}

		if n, err := outbox.CleanupProcessed(ctx, cfg.Retention); err != nil {
			logger.Error("outbox cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("outbox entries cleaned up", zap.Int64("count", n))
		}

		if stats, err := outbox.GetStats(ctx); err != nil {
			logger.Error("outbox stats failed", zap.Error(err))
		} else {
			logger.Debug("outbox stats",
				zap.Int64("pending", stats.Pending),
				zap.Int64("failed", stats.Failed))
		}
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

type broker interface {
	pinger
	Stats() redpanda.ProducerStats
}

// statusRouter serves health, readiness and metrics for the relay
func statusRouter(db pinger, producer broker) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "healthy",
			"service":  serviceName,
			"producer": producer.Stats(),
		})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, p := range []pinger{db, producer} {
			if err := p.Ping(ctx); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}
