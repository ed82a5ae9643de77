// Package dispatch доставка напоминаний пользователям. Потребляет элементы
// работы из очереди, повторяет временные сбои с экспоненциальной задержкой
// и фиксирует результат в хранилище. Доставка как минимум однократная:
// потерянный захват означает, что элемент обработал другой обработчик.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/backoff"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/metrics"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

// Store операции хранилища, нужные обработчику доставки.
type Store interface {
	MarkDelivered(ctx context.Context, id int64, token string, cycleStart, sentAt time.Time) error
	MarkDeliveryFailed(ctx context.Context, id int64, failedAt time.Time) error
	ReleaseClaim(ctx context.Context, id int64, token string) error
	DeactivateUser(ctx context.Context, telegramID int64) error
}

// Gateway отправка сообщений пользователю.
type Gateway interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Service обработчик доставки напоминаний.
type Service struct {
	log            *slog.Logger
	store          Store
	gw             Gateway
	maxAttempts    int
	attemptTimeout time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

// New создает обработчик доставки.
func New(log *slog.Logger, store Store, gw Gateway, maxAttempts int, attemptTimeout, backoffBase, backoffMax time.Duration) *Service {
	return &Service{
		log:            log,
		store:          store,
		gw:             gw,
		maxAttempts:    maxAttempts,
		attemptTimeout: attemptTimeout,
		backoffBase:    backoffBase,
		backoffMax:     backoffMax,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

// Handler возвращает функцию обработки тела сообщения для потребителя
// очереди. Ошибка возвращается только при отмене контекста, чтобы
// недообработанное сообщение вернулось в очередь при остановке.
func (s *Service) Handler(ctx context.Context) func([]byte) error {
	return func(body []byte) error {
		return s.handleWorkItem(ctx, body)
	}
}

func (s *Service) handleWorkItem(ctx context.Context, body []byte) error {
	const op = "services.dispatch.handleWorkItem"

	var item models.ReminderWorkItem
	if err := json.Unmarshal(body, &item); err != nil {
		// Нечитаемое сообщение подтверждается и отбрасывается: возврат в
		// очередь зациклил бы его навсегда.
		s.log.Error("malformed work item dropped", sl.Err(err))
		return nil
	}

	log := s.log.With(
		slog.Int64("subscription_id", item.SubscriptionID),
		slog.Int64("user_id", item.UserID))

	text := composeReminder(item)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if delay := backoff.Delay(attempt, s.backoffBase, s.backoffMax); delay > 0 {
			if err := s.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		err := s.send(ctx, item.UserID, text)
		switch {
		case err == nil:
			return s.markDelivered(ctx, log, item)
		case errors.Is(err, models.ErrPermanentDelivery):
			s.markFailed(ctx, log, item, err)
			return nil
		case errors.Is(err, models.ErrTransientDelivery):
			log.Warn("transient delivery failure",
				slog.Int("attempt", attempt), sl.Err(err))
		case ctx.Err() != nil:
			return fmt.Errorf("%s: %w", op, ctx.Err())
		default:
			log.Warn("unexpected delivery error, treated as transient",
				slog.Int("attempt", attempt), sl.Err(err))
		}
	}

	// Попытки исчерпаны: захват снимается, подписка вернется в выборку
	// планировщика, поскольку отметка об отправке не проставлена.
	log.Error("delivery attempts exhausted", slog.Int("max_attempts", s.maxAttempts))
	metrics.RemindersFailed.WithLabelValues("exhausted").Inc()
	if err := s.store.ReleaseClaim(ctx, item.SubscriptionID, item.ClaimToken); err != nil {
		log.Error("failed to release claim", sl.Err(err))
	}
	return nil
}

func (s *Service) send(ctx context.Context, chatID int64, text string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()
	return s.gw.SendMessage(attemptCtx, chatID, text)
}

func (s *Service) markDelivered(ctx context.Context, log *slog.Logger, item models.ReminderWorkItem) error {
	err := s.store.MarkDelivered(ctx, item.SubscriptionID, item.ClaimToken, item.CycleStart, s.now())
	if errors.Is(err, models.ErrStoreConflict) {
		// Захват истек по TTL, элемент доделал другой обработчик.
		log.Warn("claim was lost before delivery was recorded")
		return nil
	}
	if err != nil {
		log.Error("failed to record delivery", sl.Err(err))
		return nil
	}
	metrics.RemindersSent.Inc()
	log.Info("reminder delivered")
	return nil
}

func (s *Service) markFailed(ctx context.Context, log *slog.Logger, item models.ReminderWorkItem, cause error) {
	log.Error("permanent delivery failure", sl.Err(cause))
	metrics.RemindersFailed.WithLabelValues("permanent").Inc()
	if err := s.store.MarkDeliveryFailed(ctx, item.SubscriptionID, s.now()); err != nil {
		log.Error("failed to record delivery failure", sl.Err(err))
	}
	// 403 означает, что пользователь заблокировал бота.
	if err := s.store.DeactivateUser(ctx, item.UserID); err != nil {
		log.Error("failed to deactivate user", sl.Err(err))
	}
}

// composeReminder собирает текст напоминания. Заметки показываются только
// пользователям тарифа pro.
func composeReminder(item models.ReminderWorkItem) string {
	text := fmt.Sprintf("Reminder: %s renews on %s.",
		item.ServiceName, item.DueAt.Format("2006-01-02"))
	if item.Cost != "" {
		text = fmt.Sprintf("Reminder: %s (%s) renews on %s.",
			item.ServiceName, item.Cost, item.DueAt.Format("2006-01-02"))
	}
	if item.ProUser && item.Notes != "" {
		text += "\nNotes: " + item.Notes
	}
	return text
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
