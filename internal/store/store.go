// Package store persists users, sessions, messages and integrations in
// PostgreSQL, with pgvector nearest-neighbour search over message embeddings.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// DB is the subset of pgxpool.Pool the store needs. Consumer-defined so tests
// can substitute a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence operations. Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store backed by db.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// GetOrCreateUser resolves a user by external identifier, creating the row on
// first reference. Implemented as an upsert-returning so two concurrent first
// requests both land on the same row.
func (s *Store) GetOrCreateUser(ctx context.Context, identifier string) (*User, error) {
	const q = `
		INSERT INTO users (user_identifier)
		VALUES ($1)
		ON CONFLICT (user_identifier)
		DO UPDATE SET user_identifier = EXCLUDED.user_identifier
		RETURNING id, user_identifier, created_at`

	var u User
	if err := s.db.QueryRow(ctx, q, identifier).Scan(&u.ID, &u.Identifier, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("resolving user %q: %w", identifier, err)
	}
	return &u, nil
}

// GetUserByIdentifier looks up an existing user without creating one.
func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (*User, error) {
	const q = `SELECT id, user_identifier, created_at FROM users WHERE user_identifier = $1`

	var u User
	err := s.db.QueryRow(ctx, q, identifier).Scan(&u.ID, &u.Identifier, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user %q: %w", identifier, err)
	}
	return &u, nil
}

// CreateSession creates a session owned by userID. A nil title is allowed and
// backfilled later from the first message.
func (s *Store) CreateSession(ctx context.Context, userID uuid.UUID, title *string) (*Session, error) {
	const q = `
		INSERT INTO chat_sessions (user_id, title)
		VALUES ($1, $2)
		RETURNING id, user_id, title, created_at`

	var sess Session
	if err := s.db.QueryRow(ctx, q, userID, title).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "user_id", userID)
	return &sess, nil
}

// GetSession retrieves a session without its messages.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	const q = `SELECT id, user_id, title, created_at FROM chat_sessions WHERE id = $1`

	var sess Session
	err := s.db.QueryRow(ctx, q, id).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return &sess, nil
}

// SetSessionTitleIfEmpty backfills a title only when none is set yet, so a
// concurrent turn cannot overwrite an existing one.
func (s *Store) SetSessionTitleIfEmpty(ctx context.Context, id uuid.UUID, title string) error {
	const q = `UPDATE chat_sessions SET title = $2 WHERE id = $1 AND title IS NULL`

	if _, err := s.db.Exec(ctx, q, id, title); err != nil {
		return fmt.Errorf("backfilling session title: %w", err)
	}
	return nil
}

// ListSessions returns the user's sessions newest-first.
func (s *Store) ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Session, error) {
	const q = `
		SELECT id, user_id, title, created_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0, limit)
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// SessionWithMessages returns a session and its messages in conversation
// order.
func (s *Store) SessionWithMessages(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	const q = `
		SELECT id, session_id, sender, content, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY id`

	rows, err := s.db.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("loading messages for session %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading messages for session %s: %w", id, err)
	}
	return sess, nil
}

// AddMessage persists one turn. The message's ID and CreatedAt are filled in
// from the inserted row. A nil embedding stores NULL; a wrong-length embedding
// is rejected before reaching the database.
func (s *Store) AddMessage(ctx context.Context, m *Message) error {
	if m.Embedding != nil && len(m.Embedding) != EmbeddingDim {
		return fmt.Errorf("store: embedding has %d dimensions, want %d", len(m.Embedding), EmbeddingDim)
	}

	var embedding *pgvector.Vector
	if m.Embedding != nil {
		v := pgvector.NewVector(m.Embedding)
		embedding = &v
	}

	const q = `
		INSERT INTO messages (session_id, sender, content, embedding)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	if err := s.db.QueryRow(ctx, q, m.SessionID, m.Sender, m.Content, embedding).Scan(&m.ID, &m.CreatedAt); err != nil {
		return fmt.Errorf("adding %s message to session %s: %w", m.Sender, m.SessionID, err)
	}

	s.logger.Debug("added message",
		"id", m.ID,
		"session_id", m.SessionID,
		"sender", m.Sender,
		"has_embedding", embedding != nil)
	return nil
}

// SearchSimilar runs one nearest-neighbour query over the user's embedded
// messages inside the recency window, excluding the triggering message,
// ordered by ascending L2 distance.
func (s *Store) SearchSimilar(ctx context.Context, params SimilaritySearch) ([]SimilarMessage, error) {
	if len(params.Embedding) != EmbeddingDim {
		return nil, fmt.Errorf("store: query embedding has %d dimensions, want %d", len(params.Embedding), EmbeddingDim)
	}

	const q = `
		SELECT m.id, m.session_id, m.sender, m.content, m.created_at,
		       m.embedding <-> $1 AS distance
		FROM messages m
		JOIN chat_sessions cs ON cs.id = m.session_id
		WHERE cs.user_id = $2
		  AND m.id <> $3
		  AND m.embedding IS NOT NULL
		  AND m.created_at >= $4
		ORDER BY m.embedding <-> $1
		LIMIT $5`

	query := pgvector.NewVector(params.Embedding)
	rows, err := s.db.Query(ctx, q, query, params.UserID, params.ExcludeMessageID, params.Since, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	results := make([]SimilarMessage, 0, params.Limit)
	for rows.Next() {
		var sm SimilarMessage
		if err := rows.Scan(&sm.ID, &sm.SessionID, &sm.Sender, &sm.Content, &sm.CreatedAt, &sm.Distance); err != nil {
			return nil, fmt.Errorf("scanning similarity result: %w", err)
		}
		results = append(results, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return results, nil
}
