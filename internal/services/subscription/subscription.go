// Package subscription сервисный слой подписок: создание с учетом квоты,
// переходы жизненного цикла и агрегированная статистика.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/lifecycle"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/quota"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

// StatsCacheKey ключ кеша операторской статистики.
const StatsCacheKey = "stats:global"

// statsCacheTTL время жизни кешированной статистики.
const statsCacheTTL = time.Minute

// Store операции хранилища, нужные сервису подписок.
type Store interface {
	CreateEntry(ctx context.Context, entry models.Subscription, freeLimit int) (int64, error)
	ReadEntry(ctx context.Context, id int64) (*models.Subscription, error)
	ListTracked(ctx context.Context, userID int64) ([]*models.Subscription, error)
	CountActiveOrTrial(ctx context.Context, userID int64) (int, error)
	CountCanceled(ctx context.Context, userID int64) (int, error)
	UpdateState(ctx context.Context, id int64, expected, next models.State) error
	SetSnooze(ctx context.Context, id int64, until time.Time) error
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
	GetStats(ctx context.Context, now time.Time) (models.Stats, error)
}

// Cache кеш статистики. Может быть nil, тогда статистика читается из
// хранилища на каждый запрос.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service сервис подписок.
type Service struct {
	store    Store
	cache    Cache
	policy   quota.Policy
	validate *validator.Validate
	now      func() time.Time
}

// New создает сервис подписок.
func New(store Store, cache Cache, policy quota.Policy) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		policy:   policy,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Create заводит подписку в состоянии trial. Интервал напоминания обязан
// входить в меню тарифа. Квота бесплатного тарифа проверяется дважды:
// рекомендательно здесь и атомарно условной вставкой в хранилище.
func (s *Service) Create(ctx context.Context, userID int64, req models.CreateRequest) (*models.Subscription, error) {
	const op = "services.subscription.Create"

	if err := s.validate.Struct(req); err != nil {
		var validateErr validator.ValidationErrors
		if errors.As(err, &validateErr) {
			return nil, fmt.Errorf("%s: %w: %w", op, models.ErrMalformedInput, validateErr)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !req.NextDueAt.After(s.now()) {
		return nil, fmt.Errorf("%s: %w: next due date must be in the future", op, models.ErrMalformedInput)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !s.policy.IsAllowedLeadTime(user.Plan, req.LeadTime) {
		return nil, fmt.Errorf("%s: %w: lead time %s is not available on plan %s",
			op, models.ErrMalformedInput, req.LeadTime, user.Plan)
	}

	count, err := s.store.CountActiveOrTrial(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.policy.CanCreate(user.Plan, count); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entry := models.Subscription{
		UserID:       userID,
		ServiceName:  req.ServiceName,
		Cost:         req.Cost,
		BillingCycle: req.BillingCycle,
		NextDueAt:    req.NextDueAt,
		LeadTime:     req.LeadTime,
		State:        models.StateTrial,
		Notes:        req.Notes,
	}

	freeLimit := s.policy.FreeLimit
	if user.Plan == models.PlanPro {
		freeLimit = 0
	}
	id, err := s.store.CreateEntry(ctx, entry, freeLimit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	entry.ID = id

	s.invalidateStats()
	return &entry, nil
}

// List возвращает отслеживаемые подписки пользователя.
func (s *Service) List(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	const op = "services.subscription.List"
	result, err := s.store.ListTracked(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// Activate подтверждает пробную подписку. Повторное подтверждение уже
// активной подписки не ошибка. При конкурентном изменении состояния
// операция повторяется один раз со свежей записью.
func (s *Service) Activate(ctx context.Context, userID, subID int64) error {
	const op = "services.subscription.Activate"

	for attempt := 0; attempt < 2; attempt++ {
		sub, err := s.readOwned(ctx, userID, subID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if sub.State == models.StateActive {
			return nil
		}

		prev := sub.State
		if err := lifecycle.Activate(sub); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		err = s.store.UpdateState(ctx, subID, prev, sub.State)
		if errors.Is(err, models.ErrStoreConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", op, models.ErrStoreConflict)
}

// Cancel отменяет подписку. При конкурентном изменении состояния операция
// повторяется один раз со свежей записью.
func (s *Service) Cancel(ctx context.Context, userID, subID int64) error {
	const op = "services.subscription.Cancel"

	for attempt := 0; attempt < 2; attempt++ {
		sub, err := s.readOwned(ctx, userID, subID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		prev := sub.State
		if err := lifecycle.Cancel(sub); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		err = s.store.UpdateState(ctx, subID, prev, models.StateCanceled)
		if errors.Is(err, models.ErrStoreConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.invalidateStats()
		return nil
	}
	return fmt.Errorf("%s: %w", op, models.ErrStoreConflict)
}

// Snooze откладывает напоминания активной подписки до until. Доступно
// только на тарифе pro. При конкурентном изменении состояния операция
// повторяется один раз со свежей записью.
func (s *Service) Snooze(ctx context.Context, userID, subID int64, until time.Time) error {
	const op = "services.subscription.Snooze"

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.Plan != models.PlanPro {
		return fmt.Errorf("%s: %w: snooze is available on the pro plan only", op, models.ErrInvalidTransition)
	}

	for attempt := 0; attempt < 2; attempt++ {
		sub, err := s.readOwned(ctx, userID, subID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := lifecycle.Snooze(sub, s.now(), until); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		err = s.store.SetSnooze(ctx, subID, until)
		if errors.Is(err, models.ErrStoreConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", op, models.ErrStoreConflict)
}

// UserStats возвращает личные счетчики пользователя для команды бота.
func (s *Service) UserStats(ctx context.Context, userID int64) (tracked, canceled int, err error) {
	const op = "services.subscription.UserStats"

	tracked, err = s.store.CountActiveOrTrial(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	canceled, err = s.store.CountCanceled(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	return tracked, canceled, nil
}

// Stats возвращает операторскую статистику, кешируя результат на минуту.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	const op = "services.subscription.Stats"

	var cached models.Stats
	if s.cache != nil {
		if found, err := s.cache.Get(StatsCacheKey, &cached); err == nil && found {
			return cached, nil
		}
	}

	result, err := s.store.GetStats(ctx, s.now())
	if err != nil {
		return models.Stats{}, fmt.Errorf("%s: %w", op, err)
	}
	if s.cache != nil {
		_ = s.cache.Set(StatsCacheKey, result, statsCacheTTL)
	}
	return result, nil
}

// readOwned читает подписку и проверяет, что она принадлежит пользователю.
// Чужая подписка неотличима от несуществующей.
func (s *Service) readOwned(ctx context.Context, userID, subID int64) (*models.Subscription, error) {
	sub, err := s.store.ReadEntry(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, models.ErrNotFound
	}
	return sub, nil
}

func (s *Service) invalidateStats() {
	if s.cache != nil {
		_ = s.cache.Invalidate(StatsCacheKey)
	}
}
