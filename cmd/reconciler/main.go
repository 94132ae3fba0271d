package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/infra"
	"mediaforge/internal/reconcile"
)

// The reconciler is the crash-recovery half of the refund path: it finds
// FAILED/CANCELLED jobs without a refund transaction, or jobs whose
// refund-pending intent never settled, and reissues the idempotent refund.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: db connection failed")
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("reconciler: schema migration failed")
	}

	sweeper := reconcile.NewSweeper(
		repo.NewJobRepository(pool),
		repo.NewLedgerRepository(pool),
		logger,
		cfg.ReconcileMinAge,
	)

	if _, err := sweeper.Sweep(ctx); err != nil {
		logger.Error().Err(err).Msg("reconciler: initial sweep failed")
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.ReconcileCron, func() {
		if _, err := sweeper.Sweep(ctx); err != nil {
			logger.Error().Err(err).Msg("reconciler: sweep failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.ReconcileCron).Msg("reconciler: invalid cron spec")
	}
	c.Start()
	logger.Info().Str("spec", cfg.ReconcileCron).Msg("reconciler: started")

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info().Msg("reconciler: stopped")
}
