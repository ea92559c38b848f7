package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/dorainsight/dora/internal/log"
)

// Pagination bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxListSkip      = 100000
)

// SessionHandler handles session read endpoints.
type SessionHandler struct {
	svc    ChatService
	logger log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc ChatService, logger log.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
}

// list returns the caller's sessions, newest first.
// Query parameters:
//   - limit: maximum number of sessions to return (default: 20, max: 100)
//   - skip: number of sessions to skip (default: 0)
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	identifier, ok := identity(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	skip := parseIntParam(r, "skip", 0, 0, MaxListSkip)

	sessions, err := h.svc.Sessions(r.Context(), identifier, limit, skip)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions", "")
		return
	}

	resp := map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"limit":    limit,
		"skip":     skip,
	}
	writeJSON(w, http.StatusOK, resp)
}

// get returns one session with its messages. Sessions of other users are
// reported as not found.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	identifier, ok := identity(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id", err.Error())
		return
	}

	session, err := h.svc.Session(r.Context(), identifier, id)
	if err != nil {
		writeChatError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
