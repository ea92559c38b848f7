package store

import (
	"time"

	"github.com/google/uuid"
)

// Sender tags on messages.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// EmbeddingDim is the dimensionality of the messages.embedding column.
// Must match the vector(N) declaration in the schema and the embedder model.
const EmbeddingDim = 768

// IntegrationGitHub is the only integration type currently wired.
const IntegrationGitHub = "github"

// User is created lazily on first reference by external identifier and never
// deleted.
type User struct {
	ID         uuid.UUID `json:"id"`
	Identifier string    `json:"user_identifier"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session owns an ordered sequence of messages. Title is derived from the
// first message and may be temporarily unset.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message is immutable once written. A nil embedding is a valid state: it
// means the embedding call failed for this turn.
type Message struct {
	ID        int64     `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"timestamp"`
}

// SimilarMessage is a retrieval hit with its L2 distance to the query vector.
type SimilarMessage struct {
	Message
	Distance float64 `json:"distance"`
}

// Integration stores an encrypted third-party credential. One row per
// (user, type); deactivated on disconnect, reactivated with fresh credentials
// on reconnect.
type Integration struct {
	ID             int64     `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Type           string    `json:"integration_type"`
	AccessToken    string    `json:"-"`
	RefreshToken   *string   `json:"-"`
	RemoteUserID   string    `json:"integration_user_id"`
	RemoteUsername string    `json:"integration_username"`
	Active         bool      `json:"is_active"`
	ConnectedAt    time.Time `json:"connected_at"`
	Metadata       []byte    `json:"-"`
}

// SimilaritySearch bundles the parameters of a nearest-neighbour query.
type SimilaritySearch struct {
	UserID uuid.UUID
	// Embedding is the query vector, EmbeddingDim long.
	Embedding []float32
	// ExcludeMessageID removes the message that triggered the query from its
	// own results.
	ExcludeMessageID int64
	// Since bounds the recency window.
	Since time.Time
	// Limit is the fan-out K.
	Limit int
}
