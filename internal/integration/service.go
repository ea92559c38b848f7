package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dorainsight/dora/internal/github"
	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/retrieval"
	"github.com/dorainsight/dora/internal/store"
)

var (
	// ErrInvalidState rejects callback requests whose state token is
	// unknown, expired or already used.
	ErrInvalidState = errors.New("invalid or expired state")
	// ErrMissingRepo rejects data queries that need a repository but name none.
	ErrMissingRepo = errors.New("repo is required for this query type")
	// ErrMissingNumber rejects issue-detail queries without an issue number.
	ErrMissingNumber = errors.New("issue number is required for this query type")
)

const defaultQueryLimit = 10

// Store is the persistence surface the service needs.
type Store interface {
	GetOrCreateUser(ctx context.Context, identifier string) (*store.User, error)
	UpsertIntegration(ctx context.Context, integ *store.Integration) error
	GetIntegration(ctx context.Context, userID uuid.UUID, integrationType string) (*store.Integration, error)
	DeactivateIntegration(ctx context.Context, userID uuid.UUID, integrationType string) error
}

// Cipher encrypts tokens at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Exchanger runs the provider's authorization-code flow.
type Exchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (accessToken, refreshToken string, err error)
}

// Connector is the provider API surface used for verification and data
// queries.
type Connector interface {
	Viewer(ctx context.Context, token string) (*github.Account, error)
	Repositories(ctx context.Context, token string, n int) ([]github.Repo, error)
	Repository(ctx context.Context, token, owner, name string) (*github.Repo, error)
	Commits(ctx context.Context, token, owner, name string, n int) ([]github.Commit, error)
	Issues(ctx context.Context, token, owner, name string, n int) ([]github.Issue, error)
	Issue(ctx context.Context, token, owner, name string, number int) (*github.Issue, error)
}

// Status is the connection state reported to the frontend.
type Status struct {
	Connected   bool       `json:"connected"`
	Username    string     `json:"username,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// QueryRequest is one on-demand data fetch.
type QueryRequest struct {
	Kind   github.QueryKind
	Repo   string // owner/name, required for repo-scoped kinds
	Number int    // required for issue details
	Limit  int
}

// Service wires the OAuth handshake, credential storage and data queries
// together. It also serves as the retriever's token source.
type Service struct {
	store       Store
	cipher      Cipher
	oauth       Exchanger
	gh          Connector
	states      *StateStore
	cache       *CredentialCache
	frontendURL string
	logger      log.Logger
}

// New creates the integration service.
func New(st Store, cipher Cipher, oauth Exchanger, gh Connector, states *StateStore, cache *CredentialCache, frontendURL string, logger log.Logger) *Service {
	return &Service{
		store:       st,
		cipher:      cipher,
		oauth:       oauth,
		gh:          gh,
		states:      states,
		cache:       cache,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

var _ retrieval.TokenSource = (*Service)(nil)

// Connect starts the handshake for the identified user and returns the
// provider authorization URL.
func (s *Service) Connect(ctx context.Context, identifier string) (string, error) {
	user, err := s.store.GetOrCreateUser(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("resolving user: %w", err)
	}

	state, err := s.states.Issue(user.ID, identifier, store.IntegrationGitHub)
	if err != nil {
		return "", err
	}

	return s.oauth.AuthCodeURL(state), nil
}

// Callback completes the handshake: consumes the state token, exchanges the
// code, verifies the account, stores the encrypted credential and returns the
// frontend URL to redirect the browser to.
func (s *Service) Callback(ctx context.Context, state, code string) (string, error) {
	pending, ok := s.states.Consume(state)
	if !ok {
		return "", ErrInvalidState
	}

	accessToken, refreshToken, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchanging code: %w", err)
	}

	account, err := s.gh.Viewer(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("verifying account: %w", err)
	}

	encToken, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		return "", fmt.Errorf("encrypting token: %w", err)
	}

	integ := &store.Integration{
		UserID:         pending.UserID,
		Type:           pending.IntegrationType,
		AccessToken:    encToken,
		RemoteUserID:   strconv.FormatInt(account.ID, 10),
		RemoteUsername: account.Login,
	}
	if refreshToken != "" {
		encRefresh, err := s.cipher.Encrypt(refreshToken)
		if err != nil {
			return "", fmt.Errorf("encrypting refresh token: %w", err)
		}
		integ.RefreshToken = &encRefresh
	}
	if meta, err := json.Marshal(map[string]string{
		"name":       account.Name,
		"email":      account.Email,
		"avatar_url": account.AvatarURL,
	}); err == nil {
		integ.Metadata = meta
	}

	if err := s.store.UpsertIntegration(ctx, integ); err != nil {
		return "", fmt.Errorf("storing integration: %w", err)
	}
	s.cache.Put(pending.UserID, accessToken)

	s.logger.Info("github integration connected",
		"user_id", pending.UserID, "github_login", account.Login)

	return s.frontendURL + "?github_status=connected", nil
}

// ErrorRedirectURL is where the browser lands when the callback fails.
func (s *Service) ErrorRedirectURL() string {
	return s.frontendURL + "?github_status=error"
}

// Disconnect deactivates the integration and purges the cached credential.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.DeactivateIntegration(ctx, userID, store.IntegrationGitHub); err != nil {
		return fmt.Errorf("deactivating integration: %w", err)
	}
	s.cache.Delete(userID)
	return nil
}

// Status resolves the credential and verifies it against the provider with a
// single identity call. Any failure deactivates the integration and reports
// not-connected, so repeated calls are safe.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) Status {
	integ, err := s.store.GetIntegration(ctx, userID, store.IntegrationGitHub)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("integration lookup failed", "user_id", userID, "error", err)
		}
		return Status{}
	}

	token, err := s.Token(ctx, userID)
	if err != nil {
		return Status{}
	}

	if _, err := s.gh.Viewer(ctx, token); err != nil {
		s.logger.Warn("github credential verification failed, deactivating",
			"user_id", userID, "error", err)
		s.Invalidate(ctx, userID)
		return Status{}
	}

	connectedAt := integ.ConnectedAt
	return Status{
		Connected:   true,
		Username:    integ.RemoteUsername,
		ConnectedAt: &connectedAt,
	}
}

// Token resolves the plaintext credential: cache first, then the stored
// ciphertext through the vault. Decryption failure deactivates the row since
// the stored credential can never become readable again.
func (s *Service) Token(ctx context.Context, userID uuid.UUID) (string, error) {
	if token, ok := s.cache.Get(userID); ok {
		return token, nil
	}

	integ, err := s.store.GetIntegration(ctx, userID, store.IntegrationGitHub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", retrieval.ErrNotConnected
		}
		return "", fmt.Errorf("loading integration: %w", err)
	}

	token, err := s.cipher.Decrypt(integ.AccessToken)
	if err != nil {
		s.logger.Warn("stored credential undecryptable, deactivating", "user_id", userID)
		s.Invalidate(ctx, userID)
		return "", fmt.Errorf("decrypting credential: %w", err)
	}

	s.cache.Put(userID, token)
	return token, nil
}

// Invalidate deactivates the integration and purges the cache. Errors are
// logged only; the caller is already on a degraded path.
func (s *Service) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := s.store.DeactivateIntegration(ctx, userID, store.IntegrationGitHub); err != nil {
		s.logger.Error("deactivating integration failed", "user_id", userID, "error", err)
	}
	s.cache.Delete(userID)
}

// Query serves one on-demand data fetch, dispatching on the query kind.
// Upstream credential rejection deactivates the integration before the error
// is returned.
func (s *Service) Query(ctx context.Context, userID uuid.UUID, req QueryRequest) (any, error) {
	token, err := s.Token(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var out any
	switch req.Kind {
	case github.QueryRepos:
		out, err = s.gh.Repositories(ctx, token, limit)
	case github.QueryRepoDetails:
		var owner, name string
		if owner, name, err = splitRepo(req.Repo); err == nil {
			out, err = s.gh.Repository(ctx, token, owner, name)
		}
	case github.QueryCommits:
		var owner, name string
		if owner, name, err = splitRepo(req.Repo); err == nil {
			out, err = s.gh.Commits(ctx, token, owner, name, limit)
		}
	case github.QueryIssues:
		var owner, name string
		if owner, name, err = splitRepo(req.Repo); err == nil {
			out, err = s.gh.Issues(ctx, token, owner, name, limit)
		}
	case github.QueryIssueDetails:
		if req.Number <= 0 {
			return nil, ErrMissingNumber
		}
		var owner, name string
		if owner, name, err = splitRepo(req.Repo); err == nil {
			out, err = s.gh.Issue(ctx, token, owner, name, req.Number)
		}
	default:
		return nil, fmt.Errorf("unknown query type: %v", req.Kind)
	}

	if err != nil {
		if errors.Is(err, github.ErrUnauthorized) {
			s.Invalidate(ctx, userID)
		}
		return nil, err
	}
	return out, nil
}

// splitRepo parses an owner/name pair.
func splitRepo(full string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(full, "/")
	if !ok || owner == "" || name == "" {
		return "", "", ErrMissingRepo
	}
	return owner, name, nil
}
