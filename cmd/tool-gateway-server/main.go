package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/admin"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/config"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine/checks"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/metrics"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/registry"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/storage"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

const healthService = "triage.tool_gateway.v1.ToolGateway"

func main() {
	cfg := config.Load()

	// Logger
	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting tool gateway server",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.Duration("check_timeout", cfg.CheckTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Rule table: file if configured, embedded defaults otherwise
	rules := engine.DefaultRules()
	if cfg.RulesFile != "" {
		r, err := engine.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			logger.Fatal("failed to load rules", zap.String("path", cfg.RulesFile), zap.Error(err))
		}
		rules = r
		logger.Info("rules loaded", zap.String("path", cfg.RulesFile))
	}

	// Storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Permissions and policy overrides: Postgres if DSN provided, otherwise allow-all
	var oracle permission.Oracle = permission.AllowAll{}
	var overrides *store.Store
	if cfg.PostgresDSN != "" {
		db, err := store.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		overrides = store.NewStore(db)
		if err := overrides.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate postgres", zap.Error(err))
		}
		oracle = permission.NewPostgresOracle(permission.PostgresOracleConfig{
			DB:       db,
			CacheTTL: cfg.PermissionCacheTTL,
			FailOpen: cfg.PermissionFailOpen,
			Logger:   logger,
		})
		logger.Info("postgres permission oracle connected")
	} else {
		logger.Info("no POSTGRES_DSN set, all permissions granted")
	}

	// Enforcement middleware
	mw := engine.NewMiddleware(checks.Default(oracle, nil, nil), rules, cfg.CheckTimeout, logger)
	if overrides != nil {
		n, err := mw.LoadOverrides(ctx, overrides)
		if err != nil {
			logger.Fatal("failed to load policy overrides", zap.Error(err))
		}
		logger.Info("policy overrides loaded", zap.Int("count", n))
	}

	// Metrics
	exporter := metrics.NewExporter()
	collector := metrics.NewCollector(metrics.Config{
		HistoryCap:        cfg.HistoryCap,
		SessionCap:        cfg.SessionCap,
		Retention:         cfg.Retention,
		CacheExpiration:   cfg.CacheExpiration,
		StaleOperationAge: cfg.StaleOperationAge,
		Writer:            writer,
		Exporter:          exporter,
	}, logger)

	// Registry
	reg := registry.NewRegistry(mw, collector, oracle, logger)
	if err := registerBuiltins(reg, collector); err != nil {
		logger.Fatal("failed to register builtin tools", zap.Error(err))
	}

	// HTTP API; policy overrides persist only when Postgres is configured
	var policyStore admin.PolicyStore
	if overrides != nil {
		policyStore = overrides
	}
	api := admin.NewServer(reg, collector, exporter.Gatherer(), logger).WithPolicies(mw, policyStore)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC server carries health and reflection for the load balancer
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = metrics.DefaultCacheExpiration
	}
	g.Go(func() error {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				collector.CleanupExpiredMetrics()
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
	logger.Info("tool gateway server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
