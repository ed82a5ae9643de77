package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jack2Spiece-nn/Subscription-Saviour/internal/models"
)

type fakePipeline struct {
	err error
	got []byte
}

func (f *fakePipeline) Handle(_ context.Context, raw []byte) error {
	f.got = raw
	return f.err
}

func TestWebhookHandler(t *testing.T) {
	cases := []struct {
		name        string
		pipelineErr error
		wantStatus  int
	}{
		{
			name:       "Успешный прием",
			wantStatus: http.StatusOK,
		},
		{
			name:        "Некорректное событие",
			pipelineErr: fmt.Errorf("decode: %w", models.ErrMalformedInput),
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "Шлюз не готов",
			pipelineErr: fmt.Errorf("guard: %w", models.ErrNotReady),
			wantStatus:  http.StatusInternalServerError,
		},
		{
			name:        "Прочая ошибка",
			pipelineErr: errors.New("unexpected"),
			wantStatus:  http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pipeline := &fakePipeline{err: tc.pipelineErr}
			handler := New(slog.New(slog.NewTextHandler(io.Discard, nil)), pipeline)

			body := []byte(`{"update_id": 1}`)
			req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			require.Equal(t, body, pipeline.got)
		})
	}
}
