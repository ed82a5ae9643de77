package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	dispatcherapp "github.com/Jack2Spiece-nn/Subscription-Saviour/internal/app/dispatcher"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/config"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger.Info("starting dispatcher", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := dispatcherapp.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to init dispatcher application", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("dispatcher application stopped with error", sl.Err(err))
		os.Exit(1)
	}
}
