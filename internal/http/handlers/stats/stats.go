// Package stats обработчик сводной статистики сервиса.
package stats

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/http/response"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

// Provider отдает агрегированную статистику.
type Provider interface {
	Stats(ctx context.Context) (models.Stats, error)
}

// New возвращает обработчик /stats.
func New(log *slog.Logger, provider Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.stats.New"
		log := log.With(slog.String("op", op))

		result, err := provider.Stats(r.Context())
		if err != nil {
			log.Error("failed to collect stats", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("failed to collect stats"))
			return
		}

		log.Info("stats collected",
			slog.Int("total_users", result.TotalUsers),
			slog.Int("active_subscriptions", result.ActiveSubscriptions))
		render.JSON(w, r, response.OK(result))
	}
}
