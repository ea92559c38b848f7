package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dorainsight/dora/internal/integration"
	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/store"
)

// Shared test doubles for the handler tests.

type fakeChatService struct {
	session  *store.Session
	sessions []store.Session
	err      error

	gotIdentifier string
	gotContent    string
	gotSessionID  *uuid.UUID
	gotLimit      int
	gotSkip       int
}

func (f *fakeChatService) Process(_ context.Context, identifier, content string, sessionID *uuid.UUID) (*store.Session, error) {
	f.gotIdentifier = identifier
	f.gotContent = content
	f.gotSessionID = sessionID
	return f.session, f.err
}

func (f *fakeChatService) Sessions(_ context.Context, identifier string, limit, offset int) ([]store.Session, error) {
	f.gotIdentifier = identifier
	f.gotLimit = limit
	f.gotSkip = offset
	return f.sessions, f.err
}

func (f *fakeChatService) Session(_ context.Context, identifier string, _ uuid.UUID) (*store.Session, error) {
	f.gotIdentifier = identifier
	return f.session, f.err
}

type fakeIntegrationService struct {
	authURL     string
	redirectURL string
	status      integration.Status
	queryData   any
	err         error

	disconnected bool
	gotQuery     integration.QueryRequest
}

func (f *fakeIntegrationService) Connect(context.Context, string) (string, error) {
	return f.authURL, f.err
}

func (f *fakeIntegrationService) Callback(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.redirectURL, nil
}

func (f *fakeIntegrationService) ErrorRedirectURL() string {
	return "https://app.example.com?github_status=error"
}

func (f *fakeIntegrationService) Disconnect(context.Context, uuid.UUID) error {
	f.disconnected = true
	return f.err
}

func (f *fakeIntegrationService) Status(context.Context, uuid.UUID) integration.Status {
	return f.status
}

func (f *fakeIntegrationService) Query(_ context.Context, _ uuid.UUID, req integration.QueryRequest) (any, error) {
	f.gotQuery = req
	return f.queryData, f.err
}

type fakeUsers struct {
	err error
}

func (f *fakeUsers) GetOrCreateUser(_ context.Context, identifier string) (*store.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &store.User{ID: uuid.New(), Identifier: identifier}, nil
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

// newTestHandler builds a full server over test doubles.
func newTestHandler(chatSvc ChatService, integSvc IntegrationService) http.Handler {
	return NewServer(&fakePinger{}, chatSvc, integSvc, &fakeUsers{}, log.NewNop()).Handler()
}

var errBoom = errors.New("boom")
