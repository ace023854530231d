package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/infastai/support-bridge/internal/model"
	"github.com/infastai/support-bridge/pkg/logger"
)

type recordingHandler struct {
	updates []*model.Update
}

func (r *recordingHandler) HandleUpdate(_ context.Context, upd *model.Update) {
	r.updates = append(r.updates, upd)
}

func TestWebhookDispatchesUpdate(t *testing.T) {
	recorder := &recordingHandler{}
	h := NewWebhookHandler(recorder, "", logger.NewNop())

	body := `{"update_id":7,"message":{"message_id":1,"from":{"id":42,"username":"alice"},"chat":{"id":42,"type":"private"},"text":"hello"}}`
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, recorder.updates, 1)
	require.EqualValues(t, 7, recorder.updates[0].UpdateID)
	require.Equal(t, "hello", recorder.updates[0].Message.Text)
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	recorder := &recordingHandler{}
	h := NewWebhookHandler(recorder, "s3cret", logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{"update_id":1}`))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, recorder.updates)
}

func TestWebhookAcceptsCorrectSecret(t *testing.T) {
	recorder := &recordingHandler{}
	h := NewWebhookHandler(recorder, "s3cret", logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{"update_id":1}`))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "s3cret")
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, recorder.updates, 1)
}

func TestWebhookDropsMalformedBody(t *testing.T) {
	recorder := &recordingHandler{}
	h := NewWebhookHandler(recorder, "", logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	// The platform retries on non-2xx, and this payload will never parse.
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, recorder.updates)
}
