package bot

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/config"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/http/handlers/health"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/http/handlers/stats"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/http/handlers/webhook"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/http/middlewarectx"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, pipeline webhook.Pipeline, statsProvider stats.Provider, checker health.Checker) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Group(func(r chi.Router) {
		r.Use(middlewarectx.NewRateLimiter(30, 60))
		r.Post(cfg.WebhookPath, webhook.New(logger, pipeline).ServeHTTP)
	})

	r.Get("/healthz", health.New(logger, checker).ServeHTTP)
	r.Get("/stats", stats.New(logger, statsProvider).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
}
