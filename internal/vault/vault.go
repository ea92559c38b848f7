// Package vault encrypts third-party access tokens for at-rest storage.
//
// A single process-wide AES-256-GCM key is derived from the configured secret
// at startup. Ciphertexts are self-contained (nonce prepended) and base64
// encoded so they can live in a text column.
//
// Decrypt failures mean "credential unusable": callers deactivate the stored
// integration instead of crashing.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// ErrDecryption indicates tampered, truncated or otherwise malformed input.
var ErrDecryption = errors.New("vault: decryption failed")

// kdfSalt is the application-scoped salt for key derivation. The secret itself
// is the only confidential input; the salt just domain-separates the key.
var kdfSalt = []byte("dora-token-vault-v1")

const nonceSize = 12

// Vault performs symmetric encryption of integration credentials.
type Vault struct {
	aead cipher.AEAD
}

// New derives the process key from secret and prepares the AEAD.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: empty secret")
	}

	key := argon2.IDKey([]byte(secret), kdfSalt, 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed or tampered input yields
// ErrDecryption.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(raw) < nonceSize {
		return "", ErrDecryption
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return string(plaintext), nil
}
