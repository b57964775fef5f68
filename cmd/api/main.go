package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/circulation-backend/api/controllers"
	"github.com/angelmondragon/circulation-backend/api/routes"
	"github.com/angelmondragon/circulation-backend/internal/auth"
	"github.com/angelmondragon/circulation-backend/internal/catalog"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/dashboard"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/ledger"
	"github.com/angelmondragon/circulation-backend/internal/users"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/instance"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/metrics"
	"github.com/angelmondragon/circulation-backend/pkg/migrate"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	deps, err := buildDeps(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Deps, error) {
	conn := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

	userRepo := users.NewRepository(conn)
	copyRepo := copies.NewRepository(conn)
	fineRepo := fines.NewRepository(conn)

	authSvc, err := auth.NewService(auth.ServiceParams{
		UserRepo:  userRepo,
		Revoker:   redisClient,
		JWTConfig: cfg.JWT,
	})
	if err != nil {
		return routes.Deps{}, err
	}
	usersSvc, err := users.NewService(userRepo)
	if err != nil {
		return routes.Deps{}, err
	}
	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn), copyRepo, dbClient)
	if err != nil {
		return routes.Deps{}, err
	}
	copiesSvc, err := copies.NewService(copyRepo, dbClient, outboxSvc)
	if err != nil {
		return routes.Deps{}, err
	}
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repository: ledger.NewRepository(conn),
		Copies:     copyRepo,
		Fines:      fineRepo,
		Calculator: fines.NewCalculator(cfg.Lending.FineDailyRate),
		Tx:         dbClient,
		Outbox:     outboxSvc,
		Logger:     logg,
		Metrics:    metrics.NewLendingMetrics(prometheus.DefaultRegisterer),
		LoanPeriod: cfg.Lending.LoanPeriod,
		MaxRetries: cfg.Lending.ApproveMaxRetries,
	})
	if err != nil {
		return routes.Deps{}, err
	}
	finesSvc, err := fines.NewService(fineRepo, dbClient, outboxSvc)
	if err != nil {
		return routes.Deps{}, err
	}
	dashboardSvc, err := dashboard.NewService(dashboard.NewRepository(conn), copyRepo, nil)
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Config:   cfg,
		Logger:   logg,
		Redis:    redisClient,
		Gatherer: prometheus.DefaultGatherer,
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Auth:      authSvc,
		Users:     usersSvc,
		Catalog:   catalogSvc,
		Copies:    copiesSvc,
		Ledger:    ledgerSvc,
		Fines:     finesSvc,
		Dashboard: dashboardSvc,
	}, nil
}
