package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixelmint-ledger/internal/api"
	"pixelmint-ledger/internal/app"
	"pixelmint-ledger/internal/config"
	"pixelmint-ledger/internal/worker"
	"pixelmint-ledger/lib/sl"
)

func main() {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := setupLogger(cfg.Env)
	logger.Info("starting ledger service", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", sl.Err(err))
		os.Exit(1)
	}
	defer a.Close()

	go a.Admission.Run(ctx, cfg.AdmissionReapInterval)

	if err := a.Worker.Schedule(worker.Schedules{
		Expiry:    cfg.ExpirySchedule,
		Reconcile: cfg.ReconcileSchedule,
		Sweep:     cfg.SweepSchedule,
	}); err != nil {
		logger.Error("schedule jobs", sl.Err(err))
		os.Exit(1)
	}
	a.Worker.Start()

	server := api.New(api.Options{
		Addr:              cfg.HTTPAddr,
		AdmissionLimit:    cfg.AdmissionLimit,
		GatewayKey:        cfg.GatewayKey,
		GatewayAllowedIPs: cfg.GatewayAllowedIPs,
		TrustedProxies:    cfg.TrustedProxies,
	}, api.Services{
		Accounts:   a.Accounts,
		Ledger:     a.Ledger,
		Redemption: a.Redemption,
		Settlement: a.Settlement,
		Granter:    a.Granter,
		Admission:  a.Admission,
		Limiter:    a.Limiter,
		Notifier:   a.Notifier,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("api server stopped", sl.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown api server", sl.Err(err))
	}
	a.Worker.Stop(shutdownCtx)
	logger.Info("service stopped")
}

func setupLogger(env string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case config.EnvLocal, config.EnvDev:
		logger = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvProd:
		logger = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log.Fatal("invalid environment: ", env)
	}

	return logger
}
