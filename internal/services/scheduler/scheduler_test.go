package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/rabbitmq"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) WakeSnoozed(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) FindElapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *mockStore) ApplyAdvance(ctx context.Context, sub *models.Subscription, prevDueAt time.Time) error {
	return m.Called(ctx, sub, prevDueAt).Error(0)
}

func (m *mockStore) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *mockStore) ClaimDue(ctx context.Context, id int64, token string, now time.Time, ttl time.Duration) error {
	return m.Called(ctx, id, token, now, ttl).Error(0)
}

func (m *mockStore) ReleaseClaim(ctx context.Context, id int64, token string) error {
	return m.Called(ctx, id, token).Error(0)
}

func (m *mockStore) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(routingKey string, message any) error {
	return m.Called(routingKey, message).Error(0)
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newScheduler(store *mockStore, pub *mockPublisher) *Service {
	svc := New(slog.New(slog.NewTextHandler(io.Discard, nil)), store, pub, time.Minute, 5*time.Minute, 100)
	svc.now = func() time.Time { return testNow }
	return svc
}

func dueSub(id, userID int64) *models.Subscription {
	return &models.Subscription{
		ID:           id,
		UserID:       userID,
		ServiceName:  "Netflix",
		Cost:         "649 RUB",
		BillingCycle: models.CycleMonthly,
		NextDueAt:    testNow.Add(24 * time.Hour),
		LeadTime:     48 * time.Hour,
		State:        models.StateActive,
	}
}

func quietPass(store *mockStore) {
	store.On("WakeSnoozed", mock.Anything, testNow).Return(int64(0), nil)
	store.On("FindElapsed", mock.Anything, testNow, 100).Return([]*models.Subscription{}, nil)
}

func TestRunPassPublishesDueItems(t *testing.T) {
	store := new(mockStore)
	pub := new(mockPublisher)
	quietPass(store)

	store.On("FindDue", mock.Anything, testNow, 100).
		Return([]*models.Subscription{dueSub(7, 42)}, nil)
	store.On("GetUser", mock.Anything, int64(42)).
		Return(&models.User{TelegramID: 42, Plan: models.PlanPro, IsActive: true}, nil)
	store.On("ClaimDue", mock.Anything, int64(7), mock.Anything, testNow, 5*time.Minute).
		Return(nil)
	pub.On("Publish", rabbitmq.RoutingKeyDue, mock.MatchedBy(func(item models.ReminderWorkItem) bool {
		return item.SubscriptionID == 7 &&
			item.UserID == 42 &&
			item.ProUser &&
			item.ClaimToken != ""
	})).Return(nil)

	newScheduler(store, pub).RunPass(context.Background())

	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestRunPassSkipsClaimedByOther(t *testing.T) {
	store := new(mockStore)
	pub := new(mockPublisher)
	quietPass(store)

	store.On("FindDue", mock.Anything, testNow, 100).
		Return([]*models.Subscription{dueSub(7, 42)}, nil)
	store.On("GetUser", mock.Anything, int64(42)).
		Return(&models.User{TelegramID: 42, Plan: models.PlanFree, IsActive: true}, nil)
	store.On("ClaimDue", mock.Anything, int64(7), mock.Anything, testNow, 5*time.Minute).
		Return(models.ErrAlreadyClaimed)

	newScheduler(store, pub).RunPass(context.Background())

	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestRunPassSkipsInactiveUser(t *testing.T) {
	store := new(mockStore)
	pub := new(mockPublisher)
	quietPass(store)

	store.On("FindDue", mock.Anything, testNow, 100).
		Return([]*models.Subscription{dueSub(7, 42)}, nil)
	store.On("GetUser", mock.Anything, int64(42)).
		Return(&models.User{TelegramID: 42, Plan: models.PlanFree, IsActive: false}, nil)

	newScheduler(store, pub).RunPass(context.Background())

	store.AssertNotCalled(t, "ClaimDue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRunPassReleasesClaimOnPublishFailure(t *testing.T) {
	store := new(mockStore)
	pub := new(mockPublisher)
	quietPass(store)

	store.On("FindDue", mock.Anything, testNow, 100).
		Return([]*models.Subscription{dueSub(7, 42)}, nil)
	store.On("GetUser", mock.Anything, int64(42)).
		Return(&models.User{TelegramID: 42, Plan: models.PlanFree, IsActive: true}, nil)
	store.On("ClaimDue", mock.Anything, int64(7), mock.Anything, testNow, 5*time.Minute).
		Return(nil)
	pub.On("Publish", rabbitmq.RoutingKeyDue, mock.Anything).
		Return(assert.AnError)
	store.On("ReleaseClaim", mock.Anything, int64(7), mock.Anything).Return(nil)

	newScheduler(store, pub).RunPass(context.Background())

	store.AssertExpectations(t)
}

func TestRolloverAdvancesElapsedCycles(t *testing.T) {
	monthly := &models.Subscription{
		ID:           3,
		UserID:       42,
		BillingCycle: models.CycleMonthly,
		NextDueAt:    testNow.Add(-24 * time.Hour),
		State:        models.StateActive,
	}
	oneTime := &models.Subscription{
		ID:           4,
		UserID:       42,
		BillingCycle: models.CycleOneTime,
		NextDueAt:    testNow.Add(-24 * time.Hour),
		State:        models.StateActive,
	}
	prevDue := testNow.Add(-24 * time.Hour)

	store := new(mockStore)
	pub := new(mockPublisher)
	store.On("WakeSnoozed", mock.Anything, testNow).Return(int64(0), nil)
	store.On("FindElapsed", mock.Anything, testNow, 100).
		Return([]*models.Subscription{monthly, oneTime}, nil)
	store.On("ApplyAdvance", mock.Anything, mock.MatchedBy(func(sub *models.Subscription) bool {
		return sub.ID == 3 &&
			sub.State == models.StateActive &&
			sub.NextDueAt.Equal(prevDue.AddDate(0, 1, 0))
	}), prevDue).Return(nil)
	store.On("ApplyAdvance", mock.Anything, mock.MatchedBy(func(sub *models.Subscription) bool {
		return sub.ID == 4 && sub.State == models.StateExpired
	}), prevDue).Return(nil)
	store.On("FindDue", mock.Anything, testNow, 100).Return([]*models.Subscription{}, nil)

	newScheduler(store, pub).RunPass(context.Background())

	store.AssertExpectations(t)
}
