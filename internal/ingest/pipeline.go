// Package ingest конвейер приема событий вебхука: разбор, проверка
// готовности шлюза и маршрутизация к обработчику бота.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/metrics"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/telegram"
)

// Readier проверяет и при необходимости выполняет инициализацию шлюза.
type Readier interface {
	EnsureReady(ctx context.Context) error
}

// Router обрабатывает разобранное событие.
type Router interface {
	HandleUpdate(ctx context.Context, upd *telegram.Update) error
}

// Pipeline последовательность обработки входящего события. Разбор выполняется
// до проверки готовности: некорректный запрос не должен трогать шлюз.
type Pipeline struct {
	log    *slog.Logger
	guard  Readier
	router Router
}

// New создает конвейер приема.
func New(log *slog.Logger, guard Readier, router Router) *Pipeline {
	return &Pipeline{log: log, guard: guard, router: router}
}

// Handle разбирает и маршрутизирует событие. Возвращает ErrMalformedInput
// для нечитаемых событий и ErrNotReady при сбое инициализации шлюза.
// Ошибка обработчика логируется и не возвращается: повторная доставка того же
// события ее не исправит.
func (p *Pipeline) Handle(ctx context.Context, raw []byte) error {
	const op = "ingest.Pipeline.Handle"

	upd, err := telegram.DecodeUpdate(raw)
	if err != nil {
		metrics.UpdatesRejected.Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.guard.EnsureReady(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", op, models.ErrNotReady, err)
	}

	if err := p.router.HandleUpdate(ctx, upd); err != nil {
		p.log.Error("failed to handle update",
			slog.Int64("update_id", upd.UpdateID), sl.Err(err))
	}

	metrics.UpdatesProcessed.Inc()
	return nil
}
