package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/matledger/internal/app"
	"github.com/odyssey-erp/matledger/internal/audit"
	"github.com/odyssey-erp/matledger/internal/inventory"
	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/masterdata/units"
	"github.com/odyssey-erp/matledger/internal/observability"
	"github.com/odyssey-erp/matledger/internal/platform/cache"
	"github.com/odyssey-erp/matledger/internal/platform/db"
	"github.com/odyssey-erp/matledger/internal/rbac"
	"github.com/odyssey-erp/matledger/internal/shared"
	"github.com/odyssey-erp/matledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.PGAutoMigrate {
		if err := db.Migrate(ctx, dbpool); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var factorCache *units.FactorCache
	var jobHandler *jobs.Handler
	if cfg.RedisAddr != "" {
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, conversion cache disabled", slog.Any("error", err))
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
			factorCache = units.NewFactorCache(redisClient, cfg.ConversionCacheTTL)
		}

		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, jobClient, logger)
	} else {
		logger.Info("redis disabled, conversion cache and jobs endpoints are off")
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	rbacService := rbac.NewService(nil)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	materialsService := materials.NewService(materials.NewRepository(dbpool), auditLogger, logger)
	unitsService := units.NewService(units.NewRepository(dbpool), factorCache, auditLogger, logger)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, idempotencyStore, inventory.ServiceConfig{
		CostPolicy: cfg.CostPolicy(),
		Factors:    unitsService.Resolver(),
		Metrics:    metrics,
		Logger:     logger,
	})
	logger.Info("write-off cost policy", slog.String("policy", string(inventoryService.CostPolicy())))

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		DB:                 dbpool,
		RBACMiddleware:     rbacMiddleware,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		MaterialsHandler:   materials.NewHandler(logger, materialsService, rbacMiddleware),
		UnitsHandler:       units.NewHandler(logger, unitsService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(rbacService),
		AuditHandler:       audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware),
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
