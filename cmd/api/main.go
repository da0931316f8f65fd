package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"balloon/internal/config"
	"balloon/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("build server", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error("start tables", "err", err)
		os.Exit(1)
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "tables", len(cfg.Tables))
		if err := srv.Listen(addr); err != nil {
			logger.Error("listen", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("server stopped")
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("shutdown timed out", "timeout", cfg.ShutdownTimeout)
		os.Exit(1)
	}
}
