package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dorainsight/dora/internal/chat"
	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/store"
)

// MaxContentLength bounds a single chat message.
const MaxContentLength = 32000

// ChatService runs conversation turns and serves session reads.
type ChatService interface {
	Process(ctx context.Context, identifier, content string, sessionID *uuid.UUID) (*store.Session, error)
	Sessions(ctx context.Context, identifier string, limit, offset int) ([]store.Session, error)
	Session(ctx context.Context, identifier string, sessionID uuid.UUID) (*store.Session, error)
}

// ChatHandler handles the chat turn endpoint.
type ChatHandler struct {
	svc    ChatService
	logger log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc ChatService, logger log.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.chat)
}

// ChatRequest is the request body for a chat turn.
type ChatRequest struct {
	Content   string  `json:"content"`
	SessionID *string `json:"session_id,omitempty"`
}

// chat runs one conversation turn and returns the full session.
func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	identifier, ok := identity(w, r)
	if !ok {
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Content) > MaxContentLength {
		writeError(w, http.StatusBadRequest, "content too long", "")
		return
	}

	var sessionID *uuid.UUID
	if req.SessionID != nil && *req.SessionID != "" {
		id, err := uuid.Parse(*req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid session_id", err.Error())
			return
		}
		sessionID = &id
	}

	session, err := h.svc.Process(r.Context(), identifier, req.Content, sessionID)
	if err != nil {
		writeChatError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// writeChatError maps orchestrator errors onto HTTP statuses. Internal
// details are logged, never sent to the client.
func writeChatError(w http.ResponseWriter, logger log.Logger, err error) {
	var clientErr *chat.ClientError
	if errors.As(err, &clientErr) {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found", "")
			return
		}
		writeError(w, http.StatusBadRequest, clientErr.Error(), "")
		return
	}

	logger.Error("chat request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error", "")
}
