package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) MarkDelivered(ctx context.Context, id int64, token string, cycleStart, sentAt time.Time) error {
	return m.Called(ctx, id, token, cycleStart, sentAt).Error(0)
}

func (m *mockStore) MarkDeliveryFailed(ctx context.Context, id int64, failedAt time.Time) error {
	return m.Called(ctx, id, failedAt).Error(0)
}

func (m *mockStore) ReleaseClaim(ctx context.Context, id int64, token string) error {
	return m.Called(ctx, id, token).Error(0)
}

func (m *mockStore) DeactivateUser(ctx context.Context, telegramID int64) error {
	return m.Called(ctx, telegramID).Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) SendMessage(ctx context.Context, chatID int64, text string) error {
	return m.Called(ctx, chatID, text).Error(0)
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newDispatcher(store *mockStore, gw *mockGateway) *Service {
	svc := New(slog.New(slog.NewTextHandler(io.Discard, nil)), store, gw,
		3, time.Second, time.Millisecond, 10*time.Millisecond)
	svc.now = func() time.Time { return testNow }
	svc.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return svc
}

func workItem() models.ReminderWorkItem {
	return models.ReminderWorkItem{
		SubscriptionID: 7,
		UserID:         42,
		ServiceName:    "Netflix",
		Cost:           "649 RUB",
		Notes:          "shared with family",
		ProUser:        true,
		DueAt:          time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		CycleStart:     time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC),
		ClaimToken:     "token-1",
	}
}

func body(t *testing.T, item models.ReminderWorkItem) []byte {
	t.Helper()
	raw, err := json.Marshal(item)
	require.NoError(t, err)
	return raw
}

func TestHandlerDeliversReminder(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	item := workItem()

	gw.On("SendMessage", mock.Anything, int64(42), mock.MatchedBy(func(text string) bool {
		return assert.ObjectsAreEqual(
			"Reminder: Netflix (649 RUB) renews on 2025-06-03.\nNotes: shared with family", text)
	})).Return(nil)
	store.On("MarkDelivered", mock.Anything, int64(7), "token-1", item.CycleStart, testNow).
		Return(nil)

	err := newDispatcher(store, gw).Handler(context.Background())(body(t, item))

	assert.NoError(t, err)
	store.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestHandlerHidesNotesForFreePlan(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	item := workItem()
	item.ProUser = false

	gw.On("SendMessage", mock.Anything, int64(42),
		"Reminder: Netflix (649 RUB) renews on 2025-06-03.").Return(nil)
	store.On("MarkDelivered", mock.Anything, int64(7), "token-1", item.CycleStart, testNow).
		Return(nil)

	err := newDispatcher(store, gw).Handler(context.Background())(body(t, item))

	assert.NoError(t, err)
	gw.AssertExpectations(t)
}

func TestHandlerRetriesTransientFailures(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	item := workItem()

	gw.On("SendMessage", mock.Anything, int64(42), mock.Anything).
		Return(models.ErrTransientDelivery).Twice()
	gw.On("SendMessage", mock.Anything, int64(42), mock.Anything).
		Return(nil).Once()
	store.On("MarkDelivered", mock.Anything, int64(7), "token-1", item.CycleStart, testNow).
		Return(nil)

	err := newDispatcher(store, gw).Handler(context.Background())(body(t, item))

	assert.NoError(t, err)
	gw.AssertNumberOfCalls(t, "SendMessage", 3)
	store.AssertExpectations(t)
}

func TestHandlerReleasesClaimWhenExhausted(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	item := workItem()

	gw.On("SendMessage", mock.Anything, int64(42), mock.Anything).
		Return(models.ErrTransientDelivery).Times(3)
	store.On("ReleaseClaim", mock.Anything, int64(7), "token-1").Return(nil)

	err := newDispatcher(store, gw).Handler(context.Background())(body(t, item))

	assert.NoError(t, err)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkDelivered",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlerStopsOnPermanentFailure(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	item := workItem()

	gw.On("SendMessage", mock.Anything, int64(42), mock.Anything).
		Return(models.ErrPermanentDelivery).Once()
	store.On("MarkDeliveryFailed", mock.Anything, int64(7), testNow).Return(nil)
	store.On("DeactivateUser", mock.Anything, int64(42)).Return(nil)

	err := newDispatcher(store, gw).Handler(context.Background())(body(t, item))

	assert.NoError(t, err)
	gw.AssertNumberOfCalls(t, "SendMessage", 1)
	store.AssertExpectations(t)
}

func TestHandlerToleratesLostClaim(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	item := workItem()

	gw.On("SendMessage", mock.Anything, int64(42), mock.Anything).Return(nil)
	store.On("MarkDelivered", mock.Anything, int64(7), "token-1", item.CycleStart, testNow).
		Return(models.ErrStoreConflict)

	err := newDispatcher(store, gw).Handler(context.Background())(body(t, item))

	assert.NoError(t, err)
}

func TestHandlerDropsMalformedBody(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)

	err := newDispatcher(store, gw).Handler(context.Background())([]byte("{not json"))

	assert.NoError(t, err)
	gw.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}
