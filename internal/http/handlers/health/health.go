// Package health обработчик проверки готовности сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/http/response"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
)

// Checker проверяет доступность хранилища.
type Checker interface {
	CheckDatabaseReady(ctx context.Context) error
}

// New возвращает обработчик /healthz.
func New(log *slog.Logger, checker Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.health.New"
		log := log.With(slog.String("op", op))

		if err := checker.CheckDatabaseReady(r.Context()); err != nil {
			log.Error("database is not ready", sl.Err(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error("storage unavailable"))
			return
		}

		render.JSON(w, r, response.OK(map[string]string{"status": "healthy"}))
	}
}
