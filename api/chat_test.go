package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorainsight/dora/internal/chat"
	"github.com/dorainsight/dora/internal/store"
)

func postChat(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestChatRequiresIdentity(t *testing.T) {
	handler := newTestHandler(&fakeChatService{}, &fakeIntegrationService{})

	w := postChat(t, handler, `{"content":"hello"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "X-User-ID")
}

func TestChatIdentifierAlias(t *testing.T) {
	svc := &fakeChatService{session: &store.Session{ID: uuid.New()}}
	handler := newTestHandler(svc, &fakeIntegrationService{})

	w := postChat(t, handler, `{"content":"hello"}`, map[string]string{HeaderUserIdentifier: "alice"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", svc.gotIdentifier)
}

func TestChatReturnsSession(t *testing.T) {
	sessionID := uuid.New()
	svc := &fakeChatService{session: &store.Session{
		ID: sessionID,
		Messages: []store.Message{
			{Sender: store.SenderUser, Content: "hello"},
			{Sender: store.SenderAssistant, Content: "hi there"},
		},
	}}
	handler := newTestHandler(svc, &fakeIntegrationService{})

	w := postChat(t, handler, `{"content":"hello"}`, map[string]string{HeaderUserID: "alice"})

	require.Equal(t, http.StatusOK, w.Code)
	var resp store.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, sessionID, resp.ID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hi there", resp.Messages[1].Content)
	assert.Equal(t, "hello", svc.gotContent)
	assert.Nil(t, svc.gotSessionID)
}

func TestChatParsesSessionID(t *testing.T) {
	sessionID := uuid.New()
	svc := &fakeChatService{session: &store.Session{ID: sessionID}}
	handler := newTestHandler(svc, &fakeIntegrationService{})

	w := postChat(t, handler, `{"content":"hello","session_id":"`+sessionID.String()+`"}`,
		map[string]string{HeaderUserID: "alice"})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.gotSessionID)
	assert.Equal(t, sessionID, *svc.gotSessionID)
}

func TestChatRejectsMalformedSessionID(t *testing.T) {
	handler := newTestHandler(&fakeChatService{}, &fakeIntegrationService{})

	w := postChat(t, handler, `{"content":"hello","session_id":"not-a-uuid"}`,
		map[string]string{HeaderUserID: "alice"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatRejectsInvalidBody(t *testing.T) {
	handler := newTestHandler(&fakeChatService{}, &fakeIntegrationService{})

	w := postChat(t, handler, `{broken`, map[string]string{HeaderUserID: "alice"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatClientErrorMapsTo400(t *testing.T) {
	svc := &fakeChatService{err: &chat.ClientError{Err: chat.ErrEmptyContent}}
	handler := newTestHandler(svc, &fakeIntegrationService{})

	w := postChat(t, handler, `{"content":""}`, map[string]string{HeaderUserID: "alice"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatServerErrorMapsTo500(t *testing.T) {
	svc := &fakeChatService{err: &chat.ServerError{Err: errBoom}}
	handler := newTestHandler(svc, &fakeIntegrationService{})

	w := postChat(t, handler, `{"content":"hello"}`, map[string]string{HeaderUserID: "alice"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom", "internal details stay out of responses")
}
