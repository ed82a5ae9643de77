// Package telegram реализует шлюз к Telegram Bot API: отправку сообщений,
// установку вебхука и разбор входящих событий. Ошибки доставки
// классифицируются на временные (повтор с backoff) и постоянные
// (повтор запрещен), согласно кодам ответа Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

const defaultAPIURL = "https://api.telegram.org"

// Client клиент Telegram Bot API.
type Client struct {
	token      string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт новый клиент Bot API.
func NewClient(token string) *Client {
	return &Client{
		token:      token,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientWithURL создаёт клиент с нестандартным адресом API, используется в тестах.
func NewClientWithURL(token, apiURL string) *Client {
	c := NewClient(token)
	c.apiURL = apiURL
	return c
}

func (c *Client) call(ctx context.Context, method string, body any) error {
	url := c.apiURL + "/bot" + c.token + "/" + method
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевые сбои и таймауты считаются временными.
		return fmt.Errorf("%w: %v", models.ErrTransientDelivery, err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrTransientDelivery, err)
	}
	if apiResp.OK {
		return nil
	}
	return classify(resp.StatusCode, apiResp.Description)
}

// classify сопоставляет код ответа Bot API с доменной ошибкой доставки.
// 429 и 5xx — временные сбои, 403 — пользователь заблокировал бота.
func classify(status int, description string) error {
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %d %s", models.ErrTransientDelivery, status, description)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %d %s", models.ErrPermanentDelivery, status, description)
	default:
		return fmt.Errorf("%w: %d %s", models.ErrPermanentDelivery, status, description)
	}
}

// Init проверяет токен и доступность Bot API методом getMe.
// Вызывается только из Guard.
func (c *Client) Init(ctx context.Context) error {
	const op = "telegram.Init"
	if err := c.call(ctx, "getMe", nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendMessage отправляет текстовое сообщение пользователю.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	const op = "telegram.SendMessage"
	if err := c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendMessageWithKeyboard отправляет сообщение с inline-клавиатурой.
func (c *Client) SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, kb *InlineKeyboardMarkup) error {
	const op = "telegram.SendMessageWithKeyboard"
	req := sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: kb}
	if err := c.call(ctx, "sendMessage", req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AnswerCallbackQuery подтверждает нажатие inline-кнопки, чтобы клиент
// убрал индикатор ожидания.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	const op = "telegram.AnswerCallbackQuery"
	req := answerCallbackRequest{CallbackQueryID: callbackID, Text: text}
	if err := c.call(ctx, "answerCallbackQuery", req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetWebhook регистрирует адрес вебхука в Bot API.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	const op = "telegram.SetWebhook"
	req := setWebhookRequest{
		URL:            url,
		AllowedUpdates: []string{"message", "callback_query"},
	}
	if err := c.call(ctx, "setWebhook", req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DecodeUpdate разбирает тело вебхука в типизированное событие.
// Любое тело, не являющееся событием с сообщением или нажатием кнопки,
// отклоняется с ErrMalformedInput.
func DecodeUpdate(raw []byte) (*Update, error) {
	const op = "telegram.DecodeUpdate"
	var upd Update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrMalformedInput, err)
	}
	if upd.UpdateID == 0 || (upd.Message == nil && upd.CallbackQuery == nil) {
		return nil, fmt.Errorf("%s: %w: update without payload", op, models.ErrMalformedInput)
	}
	if upd.Message != nil && upd.Message.From == nil {
		return nil, fmt.Errorf("%s: %w: message without sender", op, models.ErrMalformedInput)
	}
	return &upd, nil
}
