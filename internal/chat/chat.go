// Package chat orchestrates one conversation turn: user and session
// resolution, embedding, persistence, context retrieval and reply generation.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/retrieval"
	"github.com/dorainsight/dora/internal/store"
)

// sessionTitleLimit caps the auto-generated session title.
const sessionTitleLimit = 50

// ErrEmptyContent rejects turns without message content.
var ErrEmptyContent = errors.New("message content is required")

// ClientError marks failures caused by the request itself; the HTTP layer
// maps it to a 4xx response.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string { return e.Err.Error() }
func (e *ClientError) Unwrap() error { return e.Err }

// ServerError marks internal failures; the HTTP layer maps it to a 5xx
// response without leaking the cause.
type ServerError struct {
	Err error
}

func (e *ServerError) Error() string { return e.Err.Error() }
func (e *ServerError) Unwrap() error { return e.Err }

// Store is the persistence surface one turn needs.
type Store interface {
	GetOrCreateUser(ctx context.Context, identifier string) (*store.User, error)
	CreateSession(ctx context.Context, userID uuid.UUID, title *string) (*store.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error)
	SessionWithMessages(ctx context.Context, id uuid.UUID) (*store.Session, error)
	ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]store.Session, error)
	AddMessage(ctx context.Context, m *store.Message) error
	SetSessionTitleIfEmpty(ctx context.Context, id uuid.UUID, title string) error
}

// Embedder turns text into a query vector, best-effort.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Retriever assembles the context block for a turn.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) string
}

// Generator produces the assistant reply. It degrades internally and never
// fails.
type Generator interface {
	Generate(ctx context.Context, prompt, contextBlock string) string
}

// Service runs conversation turns.
type Service struct {
	store     Store
	embedder  Embedder
	retriever Retriever
	generator Generator
	logger    log.Logger
}

// New creates the orchestrator.
func New(st Store, embedder Embedder, retriever Retriever, generator Generator, logger log.Logger) *Service {
	return &Service{
		store:     st,
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		logger:    logger,
	}
}

// Process runs one turn and returns the full session with ordered messages.
// A nil sessionID, an unknown session or one owned by another user starts a
// fresh session. Once the user turn is persisted the turn always completes:
// generation failures surface as the fallback reply, not as errors.
func (s *Service) Process(ctx context.Context, identifier, content string, sessionID *uuid.UUID) (*store.Session, error) {
	if content == "" {
		return nil, &ClientError{Err: ErrEmptyContent}
	}

	user, err := s.store.GetOrCreateUser(ctx, identifier)
	if err != nil {
		return nil, &ServerError{Err: fmt.Errorf("resolving user: %w", err)}
	}

	session, err := s.resolveSession(ctx, user.ID, sessionID, content)
	if err != nil {
		return nil, &ServerError{Err: fmt.Errorf("resolving session: %w", err)}
	}

	vector, _ := s.embedder.Embed(ctx, content)

	userMsg := &store.Message{
		SessionID: session.ID,
		Sender:    store.SenderUser,
		Content:   content,
		Embedding: vector,
	}
	if err := s.store.AddMessage(ctx, userMsg); err != nil {
		return nil, &ServerError{Err: fmt.Errorf("storing user message: %w", err)}
	}

	contextBlock := s.retriever.Retrieve(ctx, retrieval.Request{
		UserID:           user.ID,
		Prompt:           content,
		Vector:           vector,
		ExcludeMessageID: userMsg.ID,
	})

	reply := s.generator.Generate(ctx, content, contextBlock)

	replyVector, _ := s.embedder.Embed(ctx, reply)
	assistantMsg := &store.Message{
		SessionID: session.ID,
		Sender:    store.SenderAssistant,
		Content:   reply,
		Embedding: replyVector,
	}
	if err := s.store.AddMessage(ctx, assistantMsg); err != nil {
		return nil, &ServerError{Err: fmt.Errorf("storing assistant message: %w", err)}
	}

	if session.Title == nil {
		if err := s.store.SetSessionTitleIfEmpty(ctx, session.ID, titleFrom(content)); err != nil {
			s.logger.Warn("session title backfill failed", "session_id", session.ID, "error", err)
		}
	}

	full, err := s.store.SessionWithMessages(ctx, session.ID)
	if err != nil {
		return nil, &ServerError{Err: fmt.Errorf("loading session: %w", err)}
	}
	return full, nil
}

// Sessions lists the user's sessions, newest first.
func (s *Service) Sessions(ctx context.Context, identifier string, limit, offset int) ([]store.Session, error) {
	user, err := s.store.GetOrCreateUser(ctx, identifier)
	if err != nil {
		return nil, &ServerError{Err: fmt.Errorf("resolving user: %w", err)}
	}

	sessions, err := s.store.ListSessions(ctx, user.ID, limit, offset)
	if err != nil {
		return nil, &ServerError{Err: fmt.Errorf("listing sessions: %w", err)}
	}
	return sessions, nil
}

// Session loads one session with its messages, enforcing ownership. Sessions
// belonging to other users are reported as not found.
func (s *Service) Session(ctx context.Context, identifier string, sessionID uuid.UUID) (*store.Session, error) {
	user, err := s.store.GetOrCreateUser(ctx, identifier)
	if err != nil {
		return nil, &ServerError{Err: fmt.Errorf("resolving user: %w", err)}
	}

	session, err := s.store.SessionWithMessages(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ClientError{Err: store.ErrNotFound}
		}
		return nil, &ServerError{Err: fmt.Errorf("loading session: %w", err)}
	}
	if session.UserID != user.ID {
		return nil, &ClientError{Err: store.ErrNotFound}
	}
	return session, nil
}

// resolveSession reuses the given session when it exists and belongs to the
// user, and creates a fresh titled session otherwise.
func (s *Service) resolveSession(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, content string) (*store.Session, error) {
	if sessionID != nil {
		session, err := s.store.GetSession(ctx, *sessionID)
		switch {
		case err == nil && session.UserID == userID:
			return session, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	title := titleFrom(content)
	return s.store.CreateSession(ctx, userID, &title)
}

// titleFrom derives a session title from the first message.
func titleFrom(content string) string {
	runes := []rune(content)
	if len(runes) > sessionTitleLimit {
		return string(runes[:sessionTitleLimit])
	}
	return content
}
