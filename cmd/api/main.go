package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/api"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/auth"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/config"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/db"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/gateway"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/logger"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/metrics"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/middleware"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/notify"
	repo "github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository/postgres"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository/redisstore"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/services"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	repos := postgres.NewRepositories(pool)
	idem := repo.Idempotency(repos.Idempotency)
	if cfg.IdempotencyStore == "redis" {
		rs := redisstore.NewIdempotency(cfg.RedisAddr, cfg.IdempotencyTTL)
		if err := rs.Ping(ctx); err != nil {
			log.Error("redis connect", "err", err)
			os.Exit(1)
		}
		idem = rs
	}

	gws := gateway.NewRegistry(
		gateway.NewPaystack(cfg.PaystackSecret),
		gateway.NewFlutterwave(cfg.FlutterwaveSecret, cfg.FlutterwaveVerifHash),
	)

	var notifiers notify.Multi
	if cfg.PropertyServiceURL != "" {
		notifiers = append(notifiers, notify.NewPropertyService(cfg.PropertyServiceURL))
	}
	if cfg.KafkaBrokers != "" {
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		notifiers = append(notifiers, kp)
	}

	wp := worker.NewPool(4)
	defer wp.Stop()

	metrics.Init()
	paySvc := services.NewPaymentService(repos.Transactions, idem, repos.AuditLogs, gws, notifiers, wp, cfg.Currency, log)
	recon := services.NewReconciler(paySvc, repos.Transactions, gws, log,
		cfg.ReconcileGrace, cfg.SettlementWindow, cfg.ReconcileMaxAttempts, cfg.ReconcileParallelism)
	go recon.Run(ctx, cfg.ReconcileInterval)

	authmw := middleware.NewAuthMiddleware(auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer))
	r := api.NewRouter(cfg, paySvc, recon, authmw)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
