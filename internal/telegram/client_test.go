package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithURL("test-token", srv.URL)
}

func TestSendMessage_Success(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	err := client.SendMessage(context.Background(), 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
}

func TestSendMessage_Classification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"429 считается временным сбоем", http.StatusTooManyRequests, models.ErrTransientDelivery},
		{"500 считается временным сбоем", http.StatusInternalServerError, models.ErrTransientDelivery},
		{"502 считается временным сбоем", http.StatusBadGateway, models.ErrTransientDelivery},
		{"403 считается постоянным сбоем", http.StatusForbidden, models.ErrPermanentDelivery},
		{"400 считается постоянным сбоем", http.StatusBadRequest, models.ErrPermanentDelivery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":false,"description":"boom"}`))
			})

			err := client.SendMessage(context.Background(), 42, "hello")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr))
		})
	}
}

func TestSendMessage_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // соединение будет отклонено

	client := NewClientWithURL("test-token", srv.URL)
	err := client.SendMessage(context.Background(), 42, "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrTransientDelivery))
}

func TestInit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/getMe", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	require.NoError(t, client.Init(context.Background()))
}

func TestDecodeUpdate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			"валидное сообщение",
			`{"update_id":10,"message":{"message_id":1,"from":{"id":42,"first_name":"Ann"},"chat":{"id":42},"text":"/start"}}`,
			false,
		},
		{
			"валидный callback",
			`{"update_id":11,"callback_query":{"id":"abc","from":{"id":42},"data":"cancel_sub_1"}}`,
			false,
		},
		{"не json", `{{{`, true},
		{"пустой объект", `{}`, true},
		{"событие без полезной нагрузки", `{"update_id":12}`, true},
		{"сообщение без отправителя", `{"update_id":13,"message":{"message_id":1,"chat":{"id":42},"text":"hi"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upd, err := DecodeUpdate([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, models.ErrMalformedInput))
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, upd.UpdateID)
		})
	}
}
