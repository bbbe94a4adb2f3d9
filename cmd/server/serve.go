package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/wallet-ledger/api"
	"github.com/warp/wallet-ledger/events"
	"github.com/warp/wallet-ledger/recharge"
	"github.com/warp/wallet-ledger/revenue"
	"github.com/warp/wallet-ledger/wallet"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, health, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize store", zap.Error(err))
		return err
	}
	defer closeStore()

	// Events are best effort: a missing Redis never blocks money movement.
	var notifier wallet.Notifier = wallet.NopNotifier{}
	if cfg.RedisAddr != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err := events.Connect(connectCtx, cfg.RedisAddr, cfg.RedisPassword)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, events disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			notifier = events.NewRedisNotifier(rdb, cfg.RedisChannel, logger)
			logger.Info("publishing wallet events", zap.String("channel", cfg.RedisChannel))
		}
	}

	if cfg.GatewayURL == "" {
		logger.Warn("GATEWAY_URL is not set, recharge redemptions will fail")
	}

	mutator := wallet.NewMutator(st,
		wallet.WithNotifier(notifier),
		wallet.WithLogger(logger),
		wallet.WithMaxRetries(cfg.MaxConflictRetries))
	service := wallet.NewService(st, mutator, cfg.Policy(), logger)
	gateway := recharge.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayTimeout, nil)
	handler := api.NewHandler(service,
		recharge.NewReconciler(service, gateway, logger),
		revenue.NewAllocator(service, st, logger),
		logger)

	scheduler := api.NewAuditScheduler(service, cfg.AuditInterval, logger)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(handler, api.RouterConfig{CORSOrigins: cfg.CORSOrigins, Health: health}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("driver", cfg.DBDriver),
			zap.Bool("auto_create", cfg.AutoCreate))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
