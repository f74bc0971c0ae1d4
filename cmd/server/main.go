// Command server runs the escrow node: a single-process chain hosting the
// escrow and proxy contracts behind an HTTP API.
package main

import (
	"context"
	"os"

	"github.com/mbd888/smarterescrow/internal/config"
	"github.com/mbd888/smarterescrow/internal/logging"
	"github.com/mbd888/smarterescrow/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting smarterescrow",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"chain_id", cfg.ChainID,
		"gas_price", cfg.GasPrice,
		"dev_accounts", cfg.DevAccounts,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if cfg.IsDevelopment() {
		logger.Info("unlocked accounts\n" + srv.Accounts().String())
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
