/*
main.go - Application entry point

PURPOSE:
  Starts the wallet ledger HTTP service and offers an offline ledger audit.

COMMANDS:
  serve    Run the HTTP API (default when no command is given)
  audit    Replay every wallet's ledger once and exit non-zero on mismatch

FLAGS (override the environment):
  --addr     HTTP listen address              (HTTP_ADDR, default :8080)
  --driver   sqlite | postgres | memory       (DB_DRIVER, default sqlite)
  --db       SQLite database path             (SQLITE_PATH, default wallet.db)
             Use ":memory:" for an in-memory database

STARTUP SEQUENCE (serve):
  1. Load configuration (.env, environment, flags)
  2. Open the store selected by DB_DRIVER
  3. Connect the Redis event publisher when REDIS_ADDR is set
  4. Wire Mutator, Service, Reconciler and Allocator
  5. Start the audit scheduler when AUDIT_INTERVAL > 0
  6. Serve HTTP with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler
  4. Close Redis and the database

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/wallet-ledger/api"
	"github.com/warp/wallet-ledger/config"
	"github.com/warp/wallet-ledger/store/postgres"
	"github.com/warp/wallet-ledger/store/sqlite"
	"github.com/warp/wallet-ledger/wallet"
	"github.com/warp/wallet-ledger/wallet/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wallet-ledger",
		Short:         "Wallet balances, recharge codes and job revenue",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	root.PersistentFlags().String("driver", "", "Storage driver: sqlite, postgres or memory (overrides DB_DRIVER)")
	root.PersistentFlags().String("db", "", "SQLite database path (overrides SQLITE_PATH)")

	serve := newServeCmd()
	root.AddCommand(serve, newAuditCmd())
	root.RunE = serve.RunE
	return root
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.HTTPAddr = v
	}
	if v, _ := cmd.Flags().GetString("driver"); v != "" {
		cfg.DBDriver = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.SQLitePath = v
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

// openStore returns the configured store, a health pinger (nil for the
// memory store) and a close function.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (wallet.Store, api.Pinger, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using postgres store")
		return st, st, st.Close, nil

	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		return store.NewMemory(), nil, func() {}, nil

	default:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using sqlite store", zap.String("path", cfg.SQLitePath))
		return st, st, func() {
			if err := st.Close(); err != nil {
				logger.Warn("closing sqlite store", zap.Error(err))
			}
		}, nil
	}
}
