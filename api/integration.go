package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dorainsight/dora/internal/github"
	"github.com/dorainsight/dora/internal/integration"
	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/retrieval"
	"github.com/dorainsight/dora/internal/store"
)

// IntegrationService is the OAuth and data-query surface.
type IntegrationService interface {
	Connect(ctx context.Context, identifier string) (string, error)
	Callback(ctx context.Context, state, code string) (string, error)
	ErrorRedirectURL() string
	Disconnect(ctx context.Context, userID uuid.UUID) error
	Status(ctx context.Context, userID uuid.UUID) integration.Status
	Query(ctx context.Context, userID uuid.UUID, req integration.QueryRequest) (any, error)
}

// Users resolves an identifier to a user record. store.Store satisfies it.
type Users interface {
	GetOrCreateUser(ctx context.Context, identifier string) (*store.User, error)
}

// IntegrationHandler handles GitHub integration endpoints.
type IntegrationHandler struct {
	svc    IntegrationService
	users  Users
	logger log.Logger
}

// NewIntegrationHandler creates a new integration handler.
func NewIntegrationHandler(svc IntegrationService, users Users, logger log.Logger) *IntegrationHandler {
	return &IntegrationHandler{svc: svc, users: users, logger: logger}
}

// RegisterRoutes registers integration routes on the given mux.
func (h *IntegrationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/integrations/status", h.status)
	mux.HandleFunc("GET /api/integrations/github/connect", h.connect)
	mux.HandleFunc("GET /api/integrations/github/callback", h.callback)
	mux.HandleFunc("DELETE /api/integrations/github", h.disconnect)
	mux.HandleFunc("POST /api/integrations/github/query", h.query)
}

// resolveUser maps the identity headers to a user record, writing the error
// response itself on failure.
func (h *IntegrationHandler) resolveUser(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	identifier, ok := identity(w, r)
	if !ok {
		return nil, false
	}
	user, err := h.users.GetOrCreateUser(r.Context(), identifier)
	if err != nil {
		h.logger.Error("failed to resolve user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return nil, false
	}
	return user, true
}

// status reports the connection state of each supported provider.
func (h *IntegrationHandler) status(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]integration.Status{
		store.IntegrationGitHub: h.svc.Status(r.Context(), user.ID),
	})
}

// connect starts the OAuth handshake and returns the authorization URL for
// the frontend to navigate to.
func (h *IntegrationHandler) connect(w http.ResponseWriter, r *http.Request) {
	identifier, ok := identity(w, r)
	if !ok {
		return
	}

	authURL, err := h.svc.Connect(r.Context(), identifier)
	if err != nil {
		h.logger.Error("failed to start github connect", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start authorization", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

// callback finishes the handshake. The browser arrives here from the
// provider, so success and failure both end in a redirect to the frontend.
func (h *IntegrationHandler) callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "state and code are required", "")
		return
	}

	redirect, err := h.svc.Callback(r.Context(), state, code)
	if err != nil {
		h.logger.Error("github callback failed", "error", err)
		http.Redirect(w, r, h.svc.ErrorRedirectURL(), http.StatusTemporaryRedirect)
		return
	}

	http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
}

// disconnect deactivates the integration.
func (h *IntegrationHandler) disconnect(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.Disconnect(r.Context(), user.ID); err != nil {
		h.logger.Error("failed to disconnect github", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// QueryRequest is the request body for an on-demand data fetch.
type QueryRequest struct {
	QueryType   string `json:"query_type"`
	Repo        string `json:"repo,omitempty"`
	IssueNumber int    `json:"issue_number,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// query serves one on-demand GitHub data fetch.
func (h *IntegrationHandler) query(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	kind, err := github.ParseQueryKind(req.QueryType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	data, err := h.svc.Query(r.Context(), user.ID, integration.QueryRequest{
		Kind:   kind,
		Repo:   req.Repo,
		Number: req.IssueNumber,
		Limit:  req.Limit,
	})
	if err != nil {
		h.writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query_type": req.QueryType,
		"data":       data,
	})
}

// writeQueryError maps data-query failures onto HTTP statuses.
func (h *IntegrationHandler) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieval.ErrNotConnected):
		writeError(w, http.StatusBadRequest, "github integration not connected", "")
	case errors.Is(err, integration.ErrMissingRepo),
		errors.Is(err, integration.ErrMissingNumber):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, github.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "github credential rejected", "")
	default:
		h.logger.Error("github query failed", "error", err)
		writeError(w, http.StatusBadGateway, "github request failed", "")
	}
}
