package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/infastai/support-bridge/internal/middleware"
	"github.com/infastai/support-bridge/internal/model"
	natsclient "github.com/infastai/support-bridge/internal/nats"
	"github.com/infastai/support-bridge/internal/session"
	"github.com/infastai/support-bridge/pkg/logger"
)

// Closer closes a conversation the way an admin close button press does.
type Closer interface {
	ForceClose(ctx context.Context, userID int64) error
}

// ConversationHandler exposes active conversations to operators.
type ConversationHandler struct {
	store   *session.Store
	closer  Closer
	streams *natsclient.StreamManager
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler. streams may be
// nil when the transcript stream is disabled.
func NewConversationHandler(store *session.Store, closer Closer, streams *natsclient.StreamManager, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:   store,
		closer:  closer,
		streams: streams,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries := h.store.List()
	writeJSON(w, http.StatusOK, model.ListConversationsResponse{
		Conversations: summaries,
		Total:         len(summaries),
	})
}

// Get handles GET /api/v1/conversations/{userID}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.store.Get(userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Close handles DELETE /api/v1/conversations/{userID}. The user still gets
// the rating prompt; the entry is removed once they rate.
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.closer == nil {
		writeError(w, http.StatusServiceUnavailable, "update delivery not running")
		return
	}

	if err := h.closer.ForceClose(r.Context(), userID); err != nil {
		if errors.Is(err, session.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to close conversation")
		writeError(w, http.StatusInternalServerError, "failed to close conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Transcript handles GET /api/v1/conversations/{userID}/transcript, reading
// the durable stream so closed conversations remain visible.
func (h *ConversationHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	if h.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript stream disabled")
		return
	}

	userID, err := middleware.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var afterSequence uint64
	if a := r.URL.Query().Get("after"); a != "" {
		if parsed, err := strconv.ParseUint(a, 10, 64); err == nil {
			afterSequence = parsed
		}
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	messages, lastSeq, hasMore, err := h.streams.GetTranscript(r.Context(), userID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to read transcript")
		writeError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}

	writeJSON(w, http.StatusOK, model.TranscriptResponse{
		Messages:     messages,
		HasMore:      hasMore,
		LastSequence: lastSeq,
	})
}
