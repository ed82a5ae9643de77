// Package webhook обработчик входящих событий Telegram.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/http/response"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

// Pipeline принимает сырое тело события вебхука.
type Pipeline interface {
	Handle(ctx context.Context, raw []byte) error
}

// maxBodySize предел размера тела запроса вебхука.
const maxBodySize = 1 << 20

// New возвращает обработчик пути вебхука. Некорректное событие получает 400,
// сбой инициализации шлюза 500, чтобы Telegram повторил доставку.
func New(log *slog.Logger, pipeline Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.webhook.New"
		log := log.With(slog.String("op", op))

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			log.Error("failed to read request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("failed to read request body"))
			return
		}

		err = pipeline.Handle(r.Context(), raw)
		switch {
		case errors.Is(err, models.ErrMalformedInput):
			log.Warn("malformed update rejected", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("malformed update"))
		case errors.Is(err, models.ErrNotReady):
			log.Error("gateway is not ready", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("gateway not ready"))
		case err != nil:
			log.Error("failed to handle update", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("internal error"))
		default:
			render.JSON(w, r, response.OK(nil))
		}
	}
}
