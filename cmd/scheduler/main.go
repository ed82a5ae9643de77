package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	schedulerapp "github.com/Jack2Spiece-nn/Subscription-Saviour/internal/app/scheduler"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/config"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger.Info("starting scheduler", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := schedulerapp.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to init scheduler application", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("scheduler application stopped with error", sl.Err(err))
		os.Exit(1)
	}
}
