package bot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/quota"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/telegram"
)

const adminID int64 = 500

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) SendMessage(ctx context.Context, chatID int64, text string) error {
	args := m.Called(ctx, chatID, text)
	return args.Error(0)
}

func (m *mockGateway) SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, kb *telegram.InlineKeyboardMarkup) error {
	args := m.Called(ctx, chatID, text, kb)
	return args.Error(0)
}

func (m *mockGateway) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	args := m.Called(ctx, callbackID, text)
	return args.Error(0)
}

type mockSubs struct {
	mock.Mock
}

func (m *mockSubs) Create(ctx context.Context, userID int64, req models.CreateRequest) (*models.Subscription, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *mockSubs) List(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *mockSubs) Activate(ctx context.Context, userID, subID int64) error {
	return m.Called(ctx, userID, subID).Error(0)
}

func (m *mockSubs) Cancel(ctx context.Context, userID, subID int64) error {
	return m.Called(ctx, userID, subID).Error(0)
}

func (m *mockSubs) Snooze(ctx context.Context, userID, subID int64, until time.Time) error {
	return m.Called(ctx, userID, subID, until).Error(0)
}

func (m *mockSubs) UserStats(ctx context.Context, userID int64) (int, int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *mockSubs) Stats(ctx context.Context) (models.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Stats), args.Error(1)
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) UpsertUser(ctx context.Context, user models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUsers) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockUsers) TouchInteraction(ctx context.Context, telegramID int64) error {
	return m.Called(ctx, telegramID).Error(0)
}

func (m *mockUsers) SetPlan(ctx context.Context, telegramID int64, plan models.PlanTier) error {
	return m.Called(ctx, telegramID, plan).Error(0)
}

func (m *mockUsers) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *mockUsers) DeactivateUser(ctx context.Context, telegramID int64) error {
	return m.Called(ctx, telegramID).Error(0)
}

func newBot(gw *mockGateway, subs *mockSubs, users *mockUsers) *Service {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), gw, subs, users, quota.NewPolicy(0, 0), adminID)
}

func message(userID int64, text string) *telegram.Update {
	return &telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 1,
			From:      &telegram.User{ID: userID, Username: "tester"},
			Chat:      telegram.Chat{ID: userID},
			Text:      text,
		},
	}
}

func callback(userID int64, data string) *telegram.Update {
	return &telegram.Update{
		UpdateID: 2,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cb1",
			From: telegram.User{ID: userID},
			Data: data,
		},
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		wantCmd  string
		wantArgs string
	}{
		{"Команда без аргументов", "/list", "/list", ""},
		{"Команда с аргументами", "/add Netflix; 10; 2025-07-01; monthly", "/add", "Netflix; 10; 2025-07-01; monthly"},
		{"Суффикс имени бота отбрасывается", "/list@saviour_bot", "/list", ""},
		{"Лишние пробелы", "  /stats  ", "/stats", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, args := splitCommand(tc.text)
			assert.Equal(t, tc.wantCmd, cmd)
			assert.Equal(t, tc.wantArgs, args)
		})
	}
}

func TestParseCallback(t *testing.T) {
	cases := []struct {
		name       string
		data       string
		wantAction string
		wantID     int64
		wantHours  int
		wantErr    bool
	}{
		{"Подтверждение", "confirm_7", "confirm", 7, 0, false},
		{"Отмена", "cancel_sub_15", "cancel_sub", 15, 0, false},
		{"Откладывание", "snooze_3", "snooze", 3, 0, false},
		{"Откладывание с интервалом", "snooze_3_48", "snooze", 3, 48, false},
		{"Без идентификатора", "confirm_", "", 0, 0, true},
		{"Мусор", "garbage", "", 0, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, id, hours, err := parseCallback(tc.data)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantAction, action)
			assert.Equal(t, tc.wantID, id)
			assert.Equal(t, tc.wantHours, hours)
		})
	}
}

func TestHandleAdd(t *testing.T) {
	gw := new(mockGateway)
	subs := new(mockSubs)
	users := new(mockUsers)

	users.On("UpsertUser", mock.Anything, mock.Anything).Return(nil)
	users.On("GetUser", mock.Anything, int64(42)).
		Return(&models.User{TelegramID: 42, Plan: models.PlanFree}, nil)
	subs.On("Create", mock.Anything, int64(42), mock.MatchedBy(func(req models.CreateRequest) bool {
		return req.ServiceName == "Netflix" &&
			req.BillingCycle == "monthly" &&
			req.LeadTime == quota.DefaultFreeLeadTime
	})).Return(&models.Subscription{
		ID:          7,
		ServiceName: "Netflix",
		NextDueAt:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		State:       models.StateTrial,
	}, nil)
	gw.On("SendMessageWithKeyboard", mock.Anything, int64(42), mock.Anything,
		mock.MatchedBy(func(kb *telegram.InlineKeyboardMarkup) bool {
			return len(kb.InlineKeyboard) == 1 &&
				kb.InlineKeyboard[0][0].CallbackData == "confirm_7"
		})).Return(nil)

	svc := newBot(gw, subs, users)
	err := svc.HandleUpdate(context.Background(), message(42, "/add Netflix; 649 RUB; 2025-07-01; monthly"))

	require.NoError(t, err)
	gw.AssertExpectations(t)
	subs.AssertExpectations(t)
}

func TestHandleAddQuotaExceeded(t *testing.T) {
	gw := new(mockGateway)
	subs := new(mockSubs)
	users := new(mockUsers)

	users.On("UpsertUser", mock.Anything, mock.Anything).Return(nil)
	users.On("GetUser", mock.Anything, int64(42)).
		Return(&models.User{TelegramID: 42, Plan: models.PlanFree}, nil)
	subs.On("Create", mock.Anything, int64(42), mock.Anything).
		Return(nil, models.ErrQuotaExceeded)
	gw.On("SendMessage", mock.Anything, int64(42), mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Free plan")
	})).Return(nil)

	svc := newBot(gw, subs, users)
	err := svc.HandleUpdate(context.Background(), message(42, "/add Spotify; 299 RUB; 2025-07-01; monthly"))

	require.NoError(t, err)
	gw.AssertExpectations(t)
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"Рассылка", "/broadcast hello"},
		{"Выдача pro", "/grant_pro 42"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := new(mockGateway)
			subs := new(mockSubs)
			users := new(mockUsers)

			users.On("UpsertUser", mock.Anything, mock.Anything).Return(nil)
			gw.On("SendMessage", mock.Anything, int64(42), "Unknown command. Use /help to see what I can do.").
				Return(nil)

			svc := newBot(gw, subs, users)
			err := svc.HandleUpdate(context.Background(), message(42, tc.text))

			require.NoError(t, err)
			gw.AssertExpectations(t)
			users.AssertNotCalled(t, "SetPlan", mock.Anything, mock.Anything, mock.Anything)
			users.AssertNotCalled(t, "ListActiveUserIDs", mock.Anything)
		})
	}
}

func TestBroadcastDeactivatesBlockedUsers(t *testing.T) {
	gw := new(mockGateway)
	subs := new(mockSubs)
	users := new(mockUsers)

	users.On("UpsertUser", mock.Anything, mock.Anything).Return(nil)
	users.On("ListActiveUserIDs", mock.Anything).Return([]int64{10, 11, 12}, nil)
	gw.On("SendMessage", mock.Anything, int64(10), "hello").Return(nil)
	gw.On("SendMessage", mock.Anything, int64(11), "hello").Return(models.ErrPermanentDelivery)
	gw.On("SendMessage", mock.Anything, int64(12), "hello").Return(nil)
	users.On("DeactivateUser", mock.Anything, int64(11)).Return(nil)
	gw.On("SendMessage", mock.Anything, adminID, "Broadcast delivered to 2 of 3 users.").Return(nil)

	svc := newBot(gw, subs, users)
	err := svc.HandleUpdate(context.Background(), message(adminID, "/broadcast hello"))

	require.NoError(t, err)
	gw.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestHandleCallback(t *testing.T) {
	cases := []struct {
		name      string
		data      string
		setupMock func(subs *mockSubs, gw *mockGateway)
	}{
		{
			name: "Подтверждение активирует подписку",
			data: "confirm_7",
			setupMock: func(subs *mockSubs, gw *mockGateway) {
				subs.On("Activate", mock.Anything, int64(42), int64(7)).Return(nil)
				gw.On("AnswerCallbackQuery", mock.Anything, "cb1", "Reminders are on.").Return(nil)
			},
		},
		{
			name: "Отмена через кнопку",
			data: "cancel_sub_7",
			setupMock: func(subs *mockSubs, gw *mockGateway) {
				subs.On("Cancel", mock.Anything, int64(42), int64(7)).Return(nil)
				gw.On("AnswerCallbackQuery", mock.Anything, "cb1", "Subscription canceled.").Return(nil)
			},
		},
		{
			name: "Откладывание недоступно бесплатному тарифу",
			data: "snooze_7",
			setupMock: func(subs *mockSubs, gw *mockGateway) {
				subs.On("Snooze", mock.Anything, int64(42), int64(7), mock.Anything).
					Return(models.ErrInvalidTransition)
				gw.On("AnswerCallbackQuery", mock.Anything, "cb1", "This action is not available anymore.").Return(nil)
			},
		},
		{
			name: "Кнопка несуществующей подписки",
			data: "confirm_999",
			setupMock: func(subs *mockSubs, gw *mockGateway) {
				subs.On("Activate", mock.Anything, int64(42), int64(999)).Return(models.ErrNotFound)
				gw.On("AnswerCallbackQuery", mock.Anything, "cb1", "Subscription not found.").Return(nil)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := new(mockGateway)
			subs := new(mockSubs)
			users := new(mockUsers)
			users.On("TouchInteraction", mock.Anything, int64(42)).Return(nil)
			tc.setupMock(subs, gw)

			svc := newBot(gw, subs, users)
			err := svc.HandleUpdate(context.Background(), callback(42, tc.data))

			require.NoError(t, err)
			gw.AssertExpectations(t)
			subs.AssertExpectations(t)
		})
	}
}
