package handler

import (
	"net/http"
	"sync/atomic"

	natsclient "github.com/infastai/support-bridge/internal/nats"
	"github.com/infastai/support-bridge/internal/session"
)

// Status tracks startup state for the health endpoint. Initialized flips to
// true once the platform client has verified its credential and update
// delivery is running; a failed startup leaves it false so operators can
// detect it externally.
type Status struct {
	configured  bool
	initialized atomic.Bool
}

// NewStatus creates a startup status. configured reports whether a bot
// credential was supplied.
func NewStatus(configured bool) *Status {
	return &Status{configured: configured}
}

// SetInitialized marks update delivery as running.
func (s *Status) SetInitialized(ok bool) {
	s.initialized.Store(ok)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	status     *Status
	store      *session.Store
	natsClient *natsclient.Client
}

// NewHealthHandler creates a new health handler. natsClient may be nil when
// the transcript stream is disabled.
func NewHealthHandler(status *Status, store *session.Store, natsClient *natsclient.Client) *HealthHandler {
	return &HealthHandler{
		status:     status,
		store:      store,
		natsClient: natsClient,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "healthy",
		"configured":           h.status.configured,
		"initialized":          h.status.initialized.Load(),
		"active_conversations": h.store.Count(),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.status.initialized.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "update delivery not running",
		})
		return
	}

	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
