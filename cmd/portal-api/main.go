// Package main provides the portal API service entry point.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxportal/internal/api"
	"github.com/drfirst/go-rxportal/internal/audit"
	"github.com/drfirst/go-rxportal/internal/bestrx"
	"github.com/drfirst/go-rxportal/internal/config"
	"github.com/drfirst/go-rxportal/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxportal/internal/observability/logging"
	"github.com/drfirst/go-rxportal/internal/observability/metrics"
	"github.com/drfirst/go-rxportal/internal/observability/tracing"
	"github.com/drfirst/go-rxportal/internal/submission"
	"github.com/drfirst/go-rxportal/pkg/circuitbreaker"
)

const serviceName = "portal-api"

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

	pool, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}
	logger.Info("connected to database")

	m := metrics.New()

	breakerCfg := circuitbreaker.DefaultConfig("")
	breakerCfg.ConsecutiveFailures = uint32(cfg.BestRX.BreakerFailures)
	breakerCfg.Timeout = cfg.BestRX.BreakerCooldown
	breakerCfg.OnStateChange = m.BreakerStateChanged
	breakers := circuitbreaker.NewManager(breakerCfg, logger)

	client := bestrx.NewClient(cfg.BestRX.ClientConfig(), breakers, m, logger)
	store := audit.NewStore(pool, logger)

	creds := cfg.BestRX.Credentials()
	if !creds.RefillReady() || !creds.TransferReady() {
		logger.Warn("pharmacy credentials incomplete; affected submissions will fail",
			zap.Bool("refill_ready", creds.RefillReady()),
			zap.Bool("transfer_ready", creds.TransferReady()))
	}
	orchestrator := submission.New(creds, client, store, logger,
		submission.WithMetrics(m),
		submission.WithAuditTimeout(cfg.Audit.Timeout))

	router := api.NewRouter(api.RouterConfig{
		ServiceName:    serviceName,
		Submitter:      orchestrator,
		Lister:         store,
		Ready:          pool,
		Breakers:       breakers,
		Metrics:        metrics.Handler(),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AdminAPIKey:    cfg.Admin.APIKey,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting portal API", zap.String("port", cfg.Server.Port))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	<-shutdownDone
	logger.Info("server stopped")
}
