// Package dispatcher собирает приложение доставки напоминаний: потребитель
// очереди, шлюз Telegram и хранилище для фиксации результата.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/config"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/rabbitmq"
	dispatchservice "github.com/Jack2Spiece-nn/Subscription-Saviour/internal/services/dispatch"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/storage/repository"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/telegram"
)

// App приложение доставки напоминаний.
type App struct {
	conn            *amqp.Connection
	ch              *amqp.Channel
	dispatchService *dispatchservice.Service
	db              *repository.Storage
	logger          *slog.Logger
}

// New создает приложение доставки.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}

	queues := rabbitmq.GetReminderQueues()
	ch, err := rabbitmq.SetupChannel(conn, queues)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	client := telegram.NewClient(cfg.BotToken)
	if err := client.Init(ctx); err != nil {
		logger.Warn("telegram gateway check failed", slog.Any("err", err))
	}

	dispatchService := dispatchservice.New(logger, db, client,
		cfg.MaxAttempts, cfg.AttemptTimeout, cfg.BackoffBase, cfg.BackoffMax)

	return &App{
		conn:            conn,
		ch:              ch,
		dispatchService: dispatchService,
		db:              db,
		logger:          logger,
	}, nil
}

// Run запускает потребителя очереди до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.QueueRemindersDue, a.dispatchService.Handler(ctx))
	if err != nil {
		a.logger.Error("failed to start reminders consumer", slog.Any("err", err))
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("dispatcher service shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", slog.Any("err", err))
	}
	return nil
}
