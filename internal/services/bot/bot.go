// Package bot маршрутизирует события Telegram к операциям над подписками:
// команды, нажатия inline-кнопок и административные действия.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/quota"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/lib/sl"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/telegram"
)

// defaultSnooze интервал откладывания по нажатию кнопки.
const defaultSnooze = 24 * time.Hour

// Gateway операции отправки в Telegram.
type Gateway interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, kb *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// Subscriptions операции сервиса подписок.
type Subscriptions interface {
	Create(ctx context.Context, userID int64, req models.CreateRequest) (*models.Subscription, error)
	List(ctx context.Context, userID int64) ([]*models.Subscription, error)
	Activate(ctx context.Context, userID, subID int64) error
	Cancel(ctx context.Context, userID, subID int64) error
	Snooze(ctx context.Context, userID, subID int64, until time.Time) error
	UserStats(ctx context.Context, userID int64) (tracked, canceled int, err error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Users операции хранилища над пользователями.
type Users interface {
	UpsertUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
	TouchInteraction(ctx context.Context, telegramID int64) error
	SetPlan(ctx context.Context, telegramID int64, plan models.PlanTier) error
	ListActiveUserIDs(ctx context.Context) ([]int64, error)
	DeactivateUser(ctx context.Context, telegramID int64) error
}

// Service маршрутизатор событий бота.
type Service struct {
	log     *slog.Logger
	gw      Gateway
	subs    Subscriptions
	users   Users
	policy  quota.Policy
	adminID int64
	now     func() time.Time
}

// New создает маршрутизатор.
func New(log *slog.Logger, gw Gateway, subs Subscriptions, users Users, policy quota.Policy, adminID int64) *Service {
	return &Service{
		log:     log,
		gw:      gw,
		subs:    subs,
		users:   users,
		policy:  policy,
		adminID: adminID,
		now:     time.Now,
	}
}

// HandleUpdate обрабатывает одно событие вебхука.
func (s *Service) HandleUpdate(ctx context.Context, upd *telegram.Update) error {
	const op = "services.bot.HandleUpdate"

	switch {
	case upd.Message != nil:
		if err := s.handleMessage(ctx, upd.Message); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	case upd.CallbackQuery != nil:
		if err := s.handleCallback(ctx, upd.CallbackQuery); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (s *Service) handleMessage(ctx context.Context, msg *telegram.Message) error {
	userID := msg.From.ID
	if err := s.users.UpsertUser(ctx, models.User{
		TelegramID: userID,
		Username:   msg.From.Username,
		FirstName:  msg.From.FirstName,
		Plan:       models.PlanFree,
	}); err != nil {
		return err
	}

	cmd, args := splitCommand(msg.Text)
	switch cmd {
	case "/start":
		return s.gw.SendMessage(ctx, msg.Chat.ID,
			"Welcome to Subscription Saviour! I track your subscriptions and remind you before they renew.\n"+
				"Use /add to track a subscription, /list to see what I am tracking, /help for details.")
	case "/help":
		return s.sendHelp(ctx, msg.Chat.ID, userID)
	case "/add":
		return s.handleAdd(ctx, msg.Chat.ID, userID, args)
	case "/list":
		return s.handleList(ctx, msg.Chat.ID, userID)
	case "/stats":
		return s.handleStats(ctx, msg.Chat.ID, userID)
	case "/broadcast":
		return s.handleBroadcast(ctx, msg.Chat.ID, userID, args)
	case "/grant_pro":
		return s.handleGrantPro(ctx, msg.Chat.ID, userID, args)
	default:
		return s.gw.SendMessage(ctx, msg.Chat.ID, "Unknown command. Use /help to see what I can do.")
	}
}

func (s *Service) sendHelp(ctx context.Context, chatID, userID int64) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	var menu []string
	for _, d := range s.policy.AllowedLeadTimes(user.Plan) {
		menu = append(menu, strconv.Itoa(int(d.Hours()))+"h")
	}

	text := "Commands:\n" +
		"/add name; cost; due date (YYYY-MM-DD); cycle (one_time|monthly|yearly); [lead hours]; [notes]\n" +
		"/list - show tracked subscriptions\n" +
		"/stats - your counters\n\n" +
		"Reminder lead times on your plan: " + strings.Join(menu, ", ")
	if user.Plan == models.PlanFree {
		text += fmt.Sprintf("\nFree plan tracks up to %d subscriptions. Pro unlocks snooze, notes and flexible lead times.", s.policy.FreeLimit)
	}
	return s.gw.SendMessage(ctx, chatID, text)
}

func (s *Service) handleAdd(ctx context.Context, chatID, userID int64, args string) error {
	req, err := s.parseAdd(ctx, userID, args)
	if err != nil {
		return s.gw.SendMessage(ctx, chatID, "I could not parse that: "+err.Error()+
			"\nFormat: /add name; cost; YYYY-MM-DD; monthly; [lead hours]; [notes]")
	}

	sub, err := s.subs.Create(ctx, userID, *req)
	switch {
	case errors.Is(err, models.ErrQuotaExceeded):
		return s.gw.SendMessage(ctx, chatID,
			fmt.Sprintf("Free plan tracks up to %d subscriptions. Cancel one or upgrade to pro.", s.policy.FreeLimit))
	case errors.Is(err, models.ErrMalformedInput):
		return s.gw.SendMessage(ctx, chatID, "That subscription does not look right: "+err.Error())
	case err != nil:
		return err
	}

	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: "Confirm", CallbackData: "confirm_" + strconv.FormatInt(sub.ID, 10)},
		{Text: "Discard", CallbackData: "delete_" + strconv.FormatInt(sub.ID, 10)},
	}}}
	text := fmt.Sprintf("Tracking %s, next due %s. Confirm to activate reminders.",
		sub.ServiceName, sub.NextDueAt.Format("2006-01-02"))
	return s.gw.SendMessageWithKeyboard(ctx, chatID, text, kb)
}

// parseAdd разбирает аргументы /add: поля через точку с запятой, интервал
// напоминания и заметки необязательны. Пропущенный интервал заменяется
// первым доступным на тарифе.
func (s *Service) parseAdd(ctx context.Context, userID int64, args string) (*models.CreateRequest, error) {
	parts := strings.Split(args, ";")
	if len(parts) < 4 {
		return nil, errors.New("expected at least name, cost, due date and billing cycle")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	dueAt, err := time.Parse("2006-01-02", parts[2])
	if err != nil {
		return nil, fmt.Errorf("bad due date %q, expected YYYY-MM-DD", parts[2])
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	leadTime := s.policy.AllowedLeadTimes(user.Plan)[0]
	if len(parts) >= 5 && parts[4] != "" {
		hours, err := strconv.Atoi(parts[4])
		if err != nil {
			return nil, fmt.Errorf("bad lead hours %q", parts[4])
		}
		leadTime = time.Duration(hours) * time.Hour
	}

	var notes string
	if len(parts) >= 6 {
		notes = parts[5]
	}

	return &models.CreateRequest{
		ServiceName:  parts[0],
		Cost:         parts[1],
		NextDueAt:    dueAt,
		BillingCycle: models.BillingCycle(parts[3]),
		LeadTime:     leadTime,
		Notes:        notes,
	}, nil
}

func (s *Service) handleList(ctx context.Context, chatID, userID int64) error {
	subs, err := s.subs.List(ctx, userID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return s.gw.SendMessage(ctx, chatID, "Nothing tracked yet. Use /add to start.")
	}

	var b strings.Builder
	var rows [][]telegram.InlineKeyboardButton
	b.WriteString("Tracked subscriptions:\n")
	for _, sub := range subs {
		daysLeft := int(time.Until(sub.NextDueAt).Hours() / 24)
		fmt.Fprintf(&b, "- %s (%s), due %s (%d days left), %s\n",
			sub.ServiceName, sub.Cost, sub.NextDueAt.Format("2006-01-02"), daysLeft, sub.State)
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         "Cancel " + sub.ServiceName,
			CallbackData: "cancel_sub_" + strconv.FormatInt(sub.ID, 10),
		}})
	}
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
	return s.gw.SendMessageWithKeyboard(ctx, chatID, b.String(), kb)
}

func (s *Service) handleStats(ctx context.Context, chatID, userID int64) error {
	tracked, canceled, err := s.subs.UserStats(ctx, userID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("You track %d subscriptions, %d canceled.", tracked, canceled)

	if userID == s.adminID {
		global, err := s.subs.Stats(ctx)
		if err != nil {
			return err
		}
		text += fmt.Sprintf("\n\nService totals: %d users (%d pro), %d active subscriptions, %d reminders sent today.",
			global.TotalUsers, global.ProUsers, global.ActiveSubscriptions, global.RemindersSentToday)
	}
	return s.gw.SendMessage(ctx, chatID, text)
}

func (s *Service) handleBroadcast(ctx context.Context, chatID, userID int64, text string) error {
	if userID != s.adminID {
		return s.gw.SendMessage(ctx, chatID, "Unknown command. Use /help to see what I can do.")
	}
	if strings.TrimSpace(text) == "" {
		return s.gw.SendMessage(ctx, chatID, "Usage: /broadcast message text")
	}

	ids, err := s.users.ListActiveUserIDs(ctx)
	if err != nil {
		return err
	}

	sent := 0
	for _, id := range ids {
		if err := s.gw.SendMessage(ctx, id, text); err != nil {
			if errors.Is(err, models.ErrPermanentDelivery) {
				if derr := s.users.DeactivateUser(ctx, id); derr != nil {
					s.log.Error("failed to deactivate user", slog.Int64("user_id", id), sl.Err(derr))
				}
				continue
			}
			s.log.Warn("broadcast delivery failed", slog.Int64("user_id", id), sl.Err(err))
			continue
		}
		sent++
	}
	return s.gw.SendMessage(ctx, chatID, fmt.Sprintf("Broadcast delivered to %d of %d users.", sent, len(ids)))
}

func (s *Service) handleGrantPro(ctx context.Context, chatID, userID int64, args string) error {
	if userID != s.adminID {
		return s.gw.SendMessage(ctx, chatID, "Unknown command. Use /help to see what I can do.")
	}

	target, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return s.gw.SendMessage(ctx, chatID, "Usage: /grant_pro telegram_id")
	}

	err = s.users.SetPlan(ctx, target, models.PlanPro)
	if errors.Is(err, models.ErrNotFound) {
		return s.gw.SendMessage(ctx, chatID, "User not found. They need to /start the bot first.")
	}
	if err != nil {
		return err
	}
	return s.gw.SendMessage(ctx, chatID, fmt.Sprintf("User %d is now on the pro plan.", target))
}

func (s *Service) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) error {
	userID := cb.From.ID
	if err := s.users.TouchInteraction(ctx, userID); err != nil {
		s.log.Warn("failed to touch interaction", slog.Int64("user_id", userID), sl.Err(err))
	}

	action, subID, hours, err := parseCallback(cb.Data)
	if err != nil {
		return s.gw.AnswerCallbackQuery(ctx, cb.ID, "This button has expired.")
	}

	switch action {
	case "confirm":
		err = s.subs.Activate(ctx, userID, subID)
		return s.answer(ctx, cb.ID, err, "Reminders are on.")
	case "cancel_sub", "delete":
		err = s.subs.Cancel(ctx, userID, subID)
		return s.answer(ctx, cb.ID, err, "Subscription canceled.")
	case "snooze":
		snooze := defaultSnooze
		if hours > 0 {
			snooze = time.Duration(hours) * time.Hour
		}
		err = s.subs.Snooze(ctx, userID, subID, s.now().Add(snooze))
		return s.answer(ctx, cb.ID, err, fmt.Sprintf("Snoozed for %d hours.", int(snooze.Hours())))
	default:
		return s.gw.AnswerCallbackQuery(ctx, cb.ID, "This button has expired.")
	}
}

// answer переводит результат операции в короткий ответ на нажатие кнопки.
func (s *Service) answer(ctx context.Context, callbackID string, err error, success string) error {
	switch {
	case err == nil:
		return s.gw.AnswerCallbackQuery(ctx, callbackID, success)
	case errors.Is(err, models.ErrNotFound):
		return s.gw.AnswerCallbackQuery(ctx, callbackID, "Subscription not found.")
	case errors.Is(err, models.ErrInvalidTransition):
		return s.gw.AnswerCallbackQuery(ctx, callbackID, "This action is not available anymore.")
	case errors.Is(err, models.ErrStoreConflict):
		return s.gw.AnswerCallbackQuery(ctx, callbackID, "Please try again.")
	default:
		return err
	}
}

// splitCommand отделяет команду от аргументов и отбрасывает суффикс
// @botname, который Telegram добавляет в группах.
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	cmd, args, _ = strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd, strings.TrimSpace(args)
}

// callbackActions известные префиксы данных inline-кнопок.
var callbackActions = []string{"cancel_sub", "confirm", "snooze", "delete"}

// parseCallback разбирает данные кнопки вида action_<id> или
// snooze_<id>_<hours>.
func parseCallback(data string) (action string, subID int64, hours int, err error) {
	for _, a := range callbackActions {
		if strings.HasPrefix(data, a+"_") {
			action = a
			break
		}
	}
	if action == "" {
		return "", 0, 0, fmt.Errorf("%w: bad callback data", models.ErrMalformedInput)
	}

	rest := strings.Split(data[len(action)+1:], "_")
	subID, err = strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: bad callback id", models.ErrMalformedInput)
	}
	if action == "snooze" && len(rest) > 1 {
		hours, err = strconv.Atoi(rest[1])
		if err != nil {
			return "", 0, 0, fmt.Errorf("%w: bad snooze hours", models.ErrMalformedInput)
		}
	}
	return action, subID, hours, nil
}
