// Package integration manages third-party account connections: the OAuth
// handshake, encrypted credential storage, and the on-demand data endpoint.
package integration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStateTTL bounds how long an OAuth handshake may stay pending.
const DefaultStateTTL = 10 * time.Minute

const stateSweepInterval = time.Minute

// PendingState is one in-flight OAuth handshake, keyed by the correlation
// token sent as the OAuth state parameter.
type PendingState struct {
	UserID          uuid.UUID
	Identifier      string
	IntegrationType string
	CreatedAt       time.Time
}

// StateStore holds pending handshakes in memory. Tokens are single-use and
// expire after the TTL; a background janitor sweeps abandoned entries.
type StateStore struct {
	mu     sync.Mutex
	states map[string]PendingState
	ttl    time.Duration

	done chan struct{}
}

// NewStateStore creates a store. A non-positive ttl falls back to
// DefaultStateTTL.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		states: make(map[string]PendingState),
		ttl:    ttl,
		done:   make(chan struct{}),
	}
}

// Issue registers a pending handshake and returns its correlation token.
func (s *StateStore) Issue(userID uuid.UUID, identifier, integrationType string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state token: %w", err)
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	s.states[token] = PendingState{
		UserID:          userID,
		Identifier:      identifier,
		IntegrationType: integrationType,
		CreatedAt:       time.Now(),
	}
	s.mu.Unlock()

	return token, nil
}

// Consume returns the handshake for a token and removes it. A token can be
// consumed at most once; expired tokens are rejected.
func (s *StateStore) Consume(token string) (PendingState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[token]
	if !ok {
		return PendingState{}, false
	}
	delete(s.states, token)

	if time.Since(st.CreatedAt) > s.ttl {
		return PendingState{}, false
	}
	return st, true
}

// Len reports the number of pending handshakes.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Start launches the janitor. It runs until ctx is cancelled.
func (s *StateStore) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(stateSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Wait blocks until the janitor has exited.
func (s *StateStore) Wait() {
	<-s.done
}

func (s *StateStore) sweep() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, st := range s.states {
		if st.CreatedAt.Before(cutoff) {
			delete(s.states, token)
		}
	}
}
