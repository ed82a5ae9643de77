// Package scheduler периодический обход подписок: пробуждение отложенных,
// продление истекших циклов и публикация назревших напоминаний в очередь.
// Захват подписки перед публикацией гарантирует, что из нескольких
// экземпляров планировщика элемент работы выпустит ровно один.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/lifecycle"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/metrics"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/rabbitmq"
)

// Store операции хранилища, нужные планировщику.
type Store interface {
	WakeSnoozed(ctx context.Context, now time.Time) (int64, error)
	FindElapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
	ApplyAdvance(ctx context.Context, sub *models.Subscription, prevDueAt time.Time) error
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
	ClaimDue(ctx context.Context, id int64, token string, now time.Time, ttl time.Duration) error
	ReleaseClaim(ctx context.Context, id int64, token string) error
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
}

// Publisher публикует элементы работы в очередь.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// Service планировщик напоминаний.
type Service struct {
	log       *slog.Logger
	store     Store
	pub       Publisher
	interval  time.Duration
	claimTTL  time.Duration
	batchSize int
	now       func() time.Time
}

// New создает планировщик.
func New(log *slog.Logger, store Store, pub Publisher, interval, claimTTL time.Duration, batchSize int) *Service {
	return &Service{
		log:       log,
		store:     store,
		pub:       pub,
		interval:  interval,
		claimTTL:  claimTTL,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run запускает цикл обхода до отмены контекста. Первый проход выполняется
// сразу, не дожидаясь тика.
func (s *Service) Run(ctx context.Context) {
	s.RunPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunPass(ctx)
		}
	}
}

// RunPass выполняет один проход. Ошибка по отдельной подписке логируется
// и не прерывает обработку остальных.
func (s *Service) RunPass(ctx context.Context) {
	now := s.now()

	woken, err := s.store.WakeSnoozed(ctx, now)
	if err != nil {
		s.log.Error("failed to wake snoozed subscriptions", sl.Err(err))
	} else if woken > 0 {
		s.log.Info("snoozed subscriptions woken", slog.Int64("count", woken))
	}

	s.rollover(ctx, now)
	s.dispatchDue(ctx, now)
}

// rollover продлевает истекшие платежные циклы: повторяющиеся подписки
// получают новую дату оплаты, разовые переводятся в expired.
func (s *Service) rollover(ctx context.Context, now time.Time) {
	elapsed, err := s.store.FindElapsed(ctx, now, s.batchSize)
	if err != nil {
		s.log.Error("failed to find elapsed subscriptions", sl.Err(err))
		return
	}

	for _, sub := range elapsed {
		prevDueAt := sub.NextDueAt
		if err := lifecycle.Advance(sub, now); err != nil {
			s.log.Error("failed to advance cycle",
				slog.Int64("subscription_id", sub.ID), sl.Err(err))
			continue
		}
		err := s.store.ApplyAdvance(ctx, sub, prevDueAt)
		if errors.Is(err, models.ErrStoreConflict) {
			// Подписку изменили конкурентно, следующий проход перечитает ее.
			continue
		}
		if err != nil {
			s.log.Error("failed to apply cycle advance",
				slog.Int64("subscription_id", sub.ID), sl.Err(err))
		}
	}
}

// dispatchDue захватывает назревшие подписки и публикует элементы работы.
func (s *Service) dispatchDue(ctx context.Context, now time.Time) {
	due, err := s.store.FindDue(ctx, now, s.batchSize)
	if err != nil {
		s.log.Error("failed to find due subscriptions", sl.Err(err))
		return
	}

	for _, sub := range due {
		user, err := s.store.GetUser(ctx, sub.UserID)
		if err != nil {
			s.log.Error("failed to load subscription owner",
				slog.Int64("subscription_id", sub.ID), sl.Err(err))
			continue
		}
		if !user.IsActive {
			continue
		}

		token := uuid.NewString()
		err = s.store.ClaimDue(ctx, sub.ID, token, now, s.claimTTL)
		if errors.Is(err, models.ErrAlreadyClaimed) {
			// Подписку забрал другой планировщик, это не сбой.
			continue
		}
		if err != nil {
			s.log.Error("failed to claim subscription",
				slog.Int64("subscription_id", sub.ID), sl.Err(err))
			continue
		}

		item := models.ReminderWorkItem{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			ServiceName:    sub.ServiceName,
			Cost:           sub.Cost,
			Notes:          sub.Notes,
			ProUser:        user.Plan == models.PlanPro,
			DueAt:          sub.NextDueAt,
			CycleStart:     lifecycle.CycleStart(sub),
			ClaimToken:     token,
		}
		if err := s.pub.Publish(rabbitmq.RoutingKeyDue, item); err != nil {
			s.log.Error("failed to publish work item",
				slog.Int64("subscription_id", sub.ID), sl.Err(err))
			if relErr := s.store.ReleaseClaim(ctx, sub.ID, token); relErr != nil {
				s.log.Error("failed to release claim",
					slog.Int64("subscription_id", sub.ID), sl.Err(relErr))
			}
			continue
		}

		metrics.RemindersScheduled.Inc()
		s.log.Info("work item published",
			slog.Int64("subscription_id", sub.ID),
			slog.String("service_name", sub.ServiceName))
	}
}
