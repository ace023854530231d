package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/infastai/support-bridge/internal/session"
)

func TestHealthReportsStartupState(t *testing.T) {
	status := NewStatus(true)
	store := session.NewStore()
	_, err := store.StartConversation(42, "alice", "infastai", 42)
	require.NoError(t, err)

	h := NewHealthHandler(status, store, nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["configured"])
	require.Equal(t, false, body["initialized"])
	require.EqualValues(t, 1, body["active_conversations"])
}

func TestReadyReflectsInitialization(t *testing.T) {
	status := NewStatus(true)
	h := NewHealthHandler(status, session.NewStore(), nil)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	status.SetInitialized(true)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
