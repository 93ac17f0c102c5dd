package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HetviBarot21/tippy-sub003/internal/api"
	"github.com/HetviBarot21/tippy-sub003/internal/auth"
	"github.com/HetviBarot21/tippy-sub003/internal/config"
	"github.com/HetviBarot21/tippy-sub003/internal/db"
	"github.com/HetviBarot21/tippy-sub003/internal/engine"
	"github.com/HetviBarot21/tippy-sub003/internal/gateway"
	"github.com/HetviBarot21/tippy-sub003/internal/logger"
	"github.com/HetviBarot21/tippy-sub003/internal/metrics"
	"github.com/HetviBarot21/tippy-sub003/internal/repository/postgres"
	"github.com/HetviBarot21/tippy-sub003/internal/services"
	"github.com/HetviBarot21/tippy-sub003/internal/worker"
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

	metrics.Init()

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(4)
	defer wp.Stop()

	gw := gateway.NewDaraja(gateway.DarajaOpts{
		BaseURL:            cfg.DarajaBaseURL,
		ConsumerKey:        cfg.DarajaConsumerKey,
		ConsumerSecret:     cfg.DarajaConsumerSecret,
		Shortcode:          cfg.DarajaShortcode,
		Passkey:            cfg.DarajaPasskey,
		Initiator:          cfg.DarajaInitiator,
		SecurityCredential: cfg.DarajaSecurityCredential,
		CallbackBase:       cfg.CallbackBaseURL,
	})

	machine := engine.NewMachine(repos.Transactions, repos.AuditLogs, wp, log)
	ingestor := engine.NewIngestor(repos.Correlations, machine, log)
	reconciler := engine.NewReconciler(repos.Transactions, gw, machine, log)

	paymentSvc := services.NewPaymentService(repos.Transactions, repos.Correlations, gw, machine, log)
	payoutSvc := services.NewPayoutService(
		repos.Transactions,
		repos.Correlations,
		gw,
		machine,
		&services.AuditCompensationSink{Audit: repos.AuditLogs},
		wp,
		log,
	)

	tm := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, 15*time.Minute)
	r := api.NewRouter(api.RouterDeps{
		Cfg:        cfg,
		TM:         tm,
		PaymentSvc: paymentSvc,
		PayoutSvc:  payoutSvc,
		Ingestor:   ingestor,
		Reconciler: reconciler,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort)
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
