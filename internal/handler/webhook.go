package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/infastai/support-bridge/internal/middleware"
	"github.com/infastai/support-bridge/internal/model"
	"github.com/infastai/support-bridge/internal/telegram"
	"github.com/infastai/support-bridge/pkg/logger"
	"github.com/infastai/support-bridge/pkg/metrics"
)

const maxUpdateBytes = 1 << 20

// WebhookHandler receives platform updates over HTTP.
type WebhookHandler struct {
	router telegram.UpdateHandler
	secret string
	logger *logger.Logger
}

// NewWebhookHandler creates a webhook handler. When secret is non-empty,
// requests must carry it in the platform's secret token header.
func NewWebhookHandler(router telegram.UpdateHandler, secret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		router: router,
		secret: secret,
		logger: log,
	}
}

// Receive handles POST /telegram/webhook. The platform treats any non-2xx
// status as undelivered and retries, so malformed bodies are logged, dropped,
// and acknowledged.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid secret token")
			return
		}
	}

	var upd model.Update
	if err := decodeJSON(r, &upd, maxUpdateBytes); err != nil {
		metrics.UpdatesDropped.WithLabelValues("undecodable_body").Inc()
		h.logger.Warn("dropping undecodable webhook body")
		w.WriteHeader(http.StatusOK)
		return
	}

	if upd.Message != nil && upd.Message.Text != "" {
		if err := middleware.ValidateMessageText(upd.Message.Text); err != nil {
			metrics.UpdatesDropped.WithLabelValues("invalid_text").Inc()
			h.logger.Warn("dropping update with invalid message text")
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	h.router.HandleUpdate(r.Context(), &upd)

	w.WriteHeader(http.StatusOK)
}
