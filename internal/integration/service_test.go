package integration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorainsight/dora/internal/github"
	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/retrieval"
	"github.com/dorainsight/dora/internal/store"
)

type fakeStore struct {
	users        map[string]*store.User
	integrations map[uuid.UUID]*store.Integration
	upserted     *store.Integration
	deactivated  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[string]*store.User),
		integrations: make(map[uuid.UUID]*store.Integration),
	}
}

func (f *fakeStore) GetOrCreateUser(_ context.Context, identifier string) (*store.User, error) {
	if u, ok := f.users[identifier]; ok {
		return u, nil
	}
	u := &store.User{ID: uuid.New(), Identifier: identifier}
	f.users[identifier] = u
	return u, nil
}

func (f *fakeStore) UpsertIntegration(_ context.Context, integ *store.Integration) error {
	f.upserted = integ
	f.integrations[integ.UserID] = integ
	return nil
}

func (f *fakeStore) GetIntegration(_ context.Context, userID uuid.UUID, _ string) (*store.Integration, error) {
	integ, ok := f.integrations[userID]
	if !ok || !integ.Active {
		return nil, store.ErrNotFound
	}
	return integ, nil
}

func (f *fakeStore) DeactivateIntegration(_ context.Context, userID uuid.UUID, _ string) error {
	f.deactivated = true
	if integ, ok := f.integrations[userID]; ok {
		integ.Active = false
	}
	return nil
}

// fakeCipher prefixes instead of encrypting, so tests can see through it.
type fakeCipher struct{ failDecrypt bool }

func (f *fakeCipher) Encrypt(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (f *fakeCipher) Decrypt(ciphertext string) (string, error) {
	if f.failDecrypt {
		return "", errors.New("decryption failed")
	}
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

type fakeExchanger struct {
	exchangeErr error
}

func (f *fakeExchanger) AuthCodeURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (f *fakeExchanger) Exchange(context.Context, string) (string, string, error) {
	if f.exchangeErr != nil {
		return "", "", f.exchangeErr
	}
	return "gho_access", "", nil
}

type fakeConnector struct {
	account   *github.Account
	viewerErr error
	repos     []github.Repo
	dataErr   error
}

func (f *fakeConnector) Viewer(context.Context, string) (*github.Account, error) {
	return f.account, f.viewerErr
}

func (f *fakeConnector) Repositories(context.Context, string, int) ([]github.Repo, error) {
	return f.repos, f.dataErr
}

func (f *fakeConnector) Repository(context.Context, string, string, string) (*github.Repo, error) {
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	return &github.Repo{FullName: "acme/dora"}, nil
}

func (f *fakeConnector) Commits(context.Context, string, string, string, int) ([]github.Commit, error) {
	return nil, f.dataErr
}

func (f *fakeConnector) Issues(context.Context, string, string, string, int) ([]github.Issue, error) {
	return nil, f.dataErr
}

func (f *fakeConnector) Issue(context.Context, string, string, string, int) (*github.Issue, error) {
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	return &github.Issue{Number: 7}, nil
}

func newService(st *fakeStore, cipher *fakeCipher, ex *fakeExchanger, gh *fakeConnector) *Service {
	return New(st, cipher, ex, gh, NewStateStore(0), NewCredentialCache(),
		"https://app.example.com", log.NewNop())
}

func connected(t *testing.T, st *fakeStore, token string) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	st.integrations[userID] = &store.Integration{
		UserID:         userID,
		Type:           store.IntegrationGitHub,
		AccessToken:    "enc:" + token,
		RemoteUsername: "octocat",
		Active:         true,
	}
	return userID
}

func TestConnectIssuesStateAndAuthURL(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, &fakeConnector{})

	url, err := svc.Connect(context.Background(), "alice")
	require.NoError(t, err)

	assert.Contains(t, url, "state=")
	assert.Equal(t, 1, svc.states.Len())
	assert.Contains(t, st.users, "alice")
}

func TestCallbackStoresEncryptedCredential(t *testing.T) {
	st := newFakeStore()
	gh := &fakeConnector{account: &github.Account{ID: 99, Login: "octocat"}}
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, gh)

	_, err := svc.Connect(context.Background(), "alice")
	require.NoError(t, err)
	var state string
	for tok := range svc.states.states {
		state = tok
	}

	redirect, err := svc.Callback(context.Background(), state, "code123")
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com?github_status=connected", redirect)
	require.NotNil(t, st.upserted)
	assert.Equal(t, "enc:gho_access", st.upserted.AccessToken, "token stored encrypted")
	assert.Equal(t, "99", st.upserted.RemoteUserID)
	assert.Equal(t, "octocat", st.upserted.RemoteUsername)

	cached, ok := svc.cache.Get(st.upserted.UserID)
	require.True(t, ok)
	assert.Equal(t, "gho_access", cached, "cache holds the plaintext")
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	svc := newService(newFakeStore(), &fakeCipher{}, &fakeExchanger{}, &fakeConnector{})

	_, err := svc.Callback(context.Background(), "bogus", "code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	st := newFakeStore()
	gh := &fakeConnector{account: &github.Account{Login: "octocat"}}
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, gh)

	_, err := svc.Connect(context.Background(), "alice")
	require.NoError(t, err)
	var state string
	for tok := range svc.states.states {
		state = tok
	}

	_, err = svc.Callback(context.Background(), state, "code")
	require.NoError(t, err)

	_, err = svc.Callback(context.Background(), state, "code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTokenResolvesThroughVaultAndCaches(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, &fakeConnector{})
	userID := connected(t, st, "gho_stored")

	token, err := svc.Token(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "gho_stored", token)

	cached, ok := svc.cache.Get(userID)
	require.True(t, ok)
	assert.Equal(t, "gho_stored", cached)
}

func TestTokenNotConnected(t *testing.T) {
	svc := newService(newFakeStore(), &fakeCipher{}, &fakeExchanger{}, &fakeConnector{})

	_, err := svc.Token(context.Background(), uuid.New())
	assert.ErrorIs(t, err, retrieval.ErrNotConnected)
}

func TestTokenDecryptFailureDeactivates(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeCipher{failDecrypt: true}, &fakeExchanger{}, &fakeConnector{})
	userID := connected(t, st, "gho_stored")

	_, err := svc.Token(context.Background(), userID)
	require.Error(t, err)
	assert.True(t, st.deactivated, "undecryptable credential deactivates the row")

	_, err = svc.Token(context.Background(), userID)
	assert.ErrorIs(t, err, retrieval.ErrNotConnected, "subsequent calls see no integration")
}

func TestDisconnectPurgesCache(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, &fakeConnector{})
	userID := connected(t, st, "gho_stored")
	svc.cache.Put(userID, "gho_stored")

	require.NoError(t, svc.Disconnect(context.Background(), userID))

	assert.True(t, st.deactivated)
	_, ok := svc.cache.Get(userID)
	assert.False(t, ok)
}

func TestStatusConnected(t *testing.T) {
	st := newFakeStore()
	gh := &fakeConnector{account: &github.Account{Login: "octocat"}}
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, gh)
	userID := connected(t, st, "gho_stored")

	status := svc.Status(context.Background(), userID)

	assert.True(t, status.Connected)
	assert.Equal(t, "octocat", status.Username)
}

func TestStatusNotConnected(t *testing.T) {
	svc := newService(newFakeStore(), &fakeCipher{}, &fakeExchanger{}, &fakeConnector{})

	status := svc.Status(context.Background(), uuid.New())
	assert.False(t, status.Connected)
}

func TestStatusVerificationFailureDeactivates(t *testing.T) {
	st := newFakeStore()
	gh := &fakeConnector{viewerErr: &github.UpstreamError{Status: 401, Message: "Bad credentials"}}
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, gh)
	userID := connected(t, st, "gho_stored")

	status := svc.Status(context.Background(), userID)

	assert.False(t, status.Connected)
	assert.True(t, st.deactivated)

	status = svc.Status(context.Background(), userID)
	assert.False(t, status.Connected, "status stays not-connected on repeat calls")
}

func TestQueryRepos(t *testing.T) {
	st := newFakeStore()
	gh := &fakeConnector{repos: []github.Repo{{FullName: "acme/dora"}}}
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, gh)
	userID := connected(t, st, "gho_stored")

	out, err := svc.Query(context.Background(), userID, QueryRequest{Kind: github.QueryRepos})
	require.NoError(t, err)

	repos, ok := out.([]github.Repo)
	require.True(t, ok)
	assert.Len(t, repos, 1)
}

func TestQueryRepoScopedKindsRequireRepo(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, &fakeConnector{})
	userID := connected(t, st, "gho_stored")

	for _, kind := range []github.QueryKind{github.QueryRepoDetails, github.QueryCommits, github.QueryIssues} {
		_, err := svc.Query(context.Background(), userID, QueryRequest{Kind: kind})
		assert.ErrorIs(t, err, ErrMissingRepo, kind.String())
	}
}

func TestQueryIssueDetailsRequiresNumber(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, &fakeConnector{})
	userID := connected(t, st, "gho_stored")

	_, err := svc.Query(context.Background(), userID, QueryRequest{
		Kind: github.QueryIssueDetails, Repo: "acme/dora",
	})
	assert.ErrorIs(t, err, ErrMissingNumber)
}

func TestQueryUnauthorizedInvalidates(t *testing.T) {
	st := newFakeStore()
	gh := &fakeConnector{dataErr: &github.UpstreamError{Status: 401, Message: "Bad credentials"}}
	svc := newService(st, &fakeCipher{}, &fakeExchanger{}, gh)
	userID := connected(t, st, "gho_stored")

	_, err := svc.Query(context.Background(), userID, QueryRequest{Kind: github.QueryRepos})

	require.ErrorIs(t, err, github.ErrUnauthorized)
	assert.True(t, st.deactivated)
}

func TestQueryNotConnected(t *testing.T) {
	svc := newService(newFakeStore(), &fakeCipher{}, &fakeExchanger{}, &fakeConnector{})

	_, err := svc.Query(context.Background(), uuid.New(), QueryRequest{Kind: github.QueryRepos})
	assert.ErrorIs(t, err, retrieval.ErrNotConnected)
}
