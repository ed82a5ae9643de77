// Package bot собирает приложение приема вебхука: хранилище, кеш, шлюз
// Telegram с защитой инициализации и HTTP-сервер.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/cache"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/config"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/ingest"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/quota"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/migrations"
	botservice "github.com/Jack2Spiece-nn/Subscription-Saviour/internal/services/bot"
	subservice "github.com/Jack2Spiece-nn/Subscription-Saviour/internal/services/subscription"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/storage/repository"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/telegram"
)

// App приложение приема вебхука.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	client *telegram.Client
	guard  *telegram.Guard
	cfg    *config.Config
}

// New создает приложение бота.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	client := telegram.NewClient(cfg.BotToken)
	guard := telegram.NewGuard(client)

	policy := quota.NewPolicy(cfg.FreeLimit, cfg.FreeLeadTime)
	subscriptionService := subservice.New(db, cacheRedis, policy)
	botService := botservice.New(logger, client, subscriptionService, db, policy, cfg.AdminUserID)
	pipeline := ingest.New(logger, guard, botService)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, pipeline, subscriptionService, db)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		client: client,
		guard:  guard,
		cfg:    cfg,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его по отмене контекста.
// Инициализация шлюза и регистрация вебхука выполняются заранее, но их
// сбой не мешает старту: защита повторит инициализацию на первом событии.
func (a *App) Run(ctx context.Context) error {
	if err := a.guard.EnsureReady(ctx); err != nil {
		a.logger.Warn("gateway warmup failed, will retry on first update", sl.Err(err))
	} else if a.cfg.WebhookURL != "" {
		if err := a.client.SetWebhook(ctx, a.cfg.WebhookURL+a.cfg.WebhookPath); err != nil {
			a.logger.Warn("failed to register webhook", sl.Err(err))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if closeErr := a.db.Close(); closeErr != nil {
			a.logger.Error("failed to close storage", sl.Err(closeErr))
		}
		return err
	}
}
