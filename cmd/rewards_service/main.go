package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Saint-Daniels/Rewards/internal/platform/config"
	"github.com/Saint-Daniels/Rewards/internal/platform/database"
	"github.com/Saint-Daniels/Rewards/internal/platform/logger"
	"github.com/Saint-Daniels/Rewards/internal/platform/messagebroker"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/adapters/catalog"
	httpadapter "github.com/Saint-Daniels/Rewards/internal/rewards_service/adapters/http"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/adapters/paymentgateway"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/app"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/policy"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository/postgres"
)

const (
	serviceName            = "rewards-service"
	shutdownTimeout        = 15 * time.Second
	catalogRefreshInterval = 15 * time.Minute
)

// httpLogger logs HTTP requests using slog.
func httpLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			requestID := chiMiddleware.GetReqID(r.Context())

			next.ServeHTTP(ww, r)

			logger.LogAttrs(r.Context(), slog.LevelInfo, "HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", ww.Status()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", requestID),
			)
		}
		return http.HandlerFunc(fn)
	}
}

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)

	appLogger.Info("Rewards service starting...",
		"http_port", cfg.HTTPPort,
		"metrics_port", cfg.MetricsPort,
		"log_level", cfg.LogLevel,
	)

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL")

	natsConn, err := messagebroker.Connect(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		// The audit event feed is best-effort; the service still runs.
		appLogger.Warn("NATS unavailable; audit events will not be published", "error", err)
		natsConn = nil
	} else {
		defer messagebroker.Close(natsConn)
	}

	ledgerRepo := postgres.NewPgLedgerRepository(appLogger)
	auditRepo := postgres.NewPgAuditRepository(appLogger)
	redemptionRepo := postgres.NewPgRedemptionRepository(appLogger)

	catalogSource := catalog.NewStaticSource(nil)
	table, err := catalogSource.Load(mainCtx)
	if err != nil {
		appLogger.Error("Failed to load catalog table", "error", err)
		os.Exit(1)
	}
	policyEngine := policy.NewEngine(table)
	refresher := catalog.NewRefresher(catalogSource, policyEngine, catalogRefreshInterval, appLogger)

	calculator := app.NewCalculator(ledgerRepo, cfg.CheckpointEvery, appLogger)

	auditLogger := app.NewAuditLogger(auditRepo, dbPool, natsConn, cfg.AuditQueueSize, appLogger)
	auditLogger.Start()
	defer auditLogger.Close()

	gateway := paymentgateway.NewMockAdapter(appLogger)
	gateway.Secret = cfg.SettlementWebhookSecret

	coordinator := app.NewCoordinator(
		app.NewPgxTxRunner(dbPool),
		dbPool,
		ledgerRepo,
		redemptionRepo,
		calculator,
		policyEngine,
		gateway,
		auditLogger,
		appLogger,
	)
	appLogger.Info("Transaction coordinator initialized")

	handler := httpadapter.NewHandler(coordinator, appLogger)
	webhookHandler := httpadapter.NewWebhookHandler(coordinator, appLogger)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(httpLogger(appLogger))
	router.Use(httpadapter.PrometheusMetricsMiddleware)
	router.Use(chiMiddleware.Recoverer)

	router.Get("/health", handler.Health)
	router.Post("/webhooks/settlement", webhookHandler.HandleSettlementWebhook)
	router.Group(func(r chi.Router) {
		r.Use(httpadapter.AuthMiddleware(cfg.JWTSecret, appLogger))
		handler.RegisterRoutes(r)
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		appLogger.Info("Metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		refresher.Run(groupCtx)
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			appLogger.Info("Shutdown signal received", "signal", sig.String())
		case <-groupCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server shutdown failed", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown failed", "error", err)
		}
		mainCancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Rewards service stopped")
}
