package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"cashbook/internal/cli"
	"cashbook/internal/config"
	apphttp "cashbook/internal/http"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting cashbook", "backend", cfg.DataBackend, "port", cfg.Port, "timezone", cfg.Timezone)

	res := cli.InitBackend(context.Background(), logger.Logger, cfg)

	srv := apphttp.NewServer(":"+cfg.Port, res.Service,
		apphttp.WithReadyCheck(apphttp.ReadyFunc(res.Ready)),
		apphttp.WithLogger(logger),
		apphttp.WithRateLimit(cfg.RateLimitPerMinute),
		apphttp.WithBlockSuspicious(cfg.BlockSuspicious),
		apphttp.WithTrustedProxies(cfg.TrustedProxyList()...),
	)

	ctx, done := cli.GracefulShutdown(logger.Logger, shutdownTimeout, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	logger.Info("Server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err)
		if cerr := res.Cleanup(); cerr != nil {
			logger.Error("Backend cleanup error", "error", cerr)
		}
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}
