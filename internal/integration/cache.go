package integration

import (
	"sync"

	"github.com/google/uuid"
)

// CredentialCache keeps decrypted access tokens in memory so a chat turn does
// not hit the vault on every augmentation. Best-effort: entries are purged on
// disconnect and on upstream rejection, and lost on restart.
type CredentialCache struct {
	mu     sync.RWMutex
	tokens map[uuid.UUID]string
}

// NewCredentialCache creates an empty cache.
func NewCredentialCache() *CredentialCache {
	return &CredentialCache{tokens: make(map[uuid.UUID]string)}
}

// Get returns the cached token for a user.
func (c *CredentialCache) Get(userID uuid.UUID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.tokens[userID]
	return token, ok
}

// Put stores a token.
func (c *CredentialCache) Put(userID uuid.UUID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[userID] = token
}

// Delete removes a user's token.
func (c *CredentialCache) Delete(userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, userID)
}
