// paymentsctl is the operator CLI: run migrations, fire a one-shot
// reconciliation sweep, or verify a single transaction against its
// gateway without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/config"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/db"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/gateway"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/logger"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/metrics"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/notify"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository/postgres"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/services"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/worker"
)

func main() {
	root := &cobra.Command{
		Use:   "paymentsctl",
		Short: "Operations CLI for the payments service",
	}
	root.AddCommand(migrateCmd(), sweepCmd(), verifyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.RunMigrations(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			recon, cleanup, err := buildReconciler(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return recon.Sweep(cmd.Context())
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <transaction-id>",
		Short: "Reconcile a single transaction against its gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recon, cleanup, err := buildReconciler(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			tx, err := recon.ReconcileByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(tx)
		},
	}
}

func buildReconciler(ctx context.Context) (*services.Reconciler, func(), error) {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	repos := postgres.NewRepositories(pool)
	gws := gateway.NewRegistry(
		gateway.NewPaystack(cfg.PaystackSecret),
		gateway.NewFlutterwave(cfg.FlutterwaveSecret, cfg.FlutterwaveVerifHash),
	)

	var notifiers notify.Multi
	if cfg.PropertyServiceURL != "" {
		notifiers = append(notifiers, notify.NewPropertyService(cfg.PropertyServiceURL))
	}

	wp := worker.NewPool(2)
	metrics.Init()
	paySvc := services.NewPaymentService(repos.Transactions, repos.Idempotency, repos.AuditLogs, gws, notifiers, wp, cfg.Currency, log)
	recon := services.NewReconciler(paySvc, repos.Transactions, gws, log,
		cfg.ReconcileGrace, cfg.SettlementWindow, cfg.ReconcileMaxAttempts, cfg.ReconcileParallelism)

	cleanup := func() {
		wp.Stop()
		pool.Close()
	}
	return recon, cleanup, nil
}
