// Package auth authenticates HTTP and MCP callers with bearer API keys
// checked against bcrypt hashes from configuration.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix marks keys issued by GenerateKey.
const APIKeyPrefix = "cpi_"

// KeyHash pairs a user with the bcrypt hash of their key.
type KeyHash struct {
	Username string
	Hash     string
}

// Keys validates API keys. Successful validations are remembered by
// sha256 digest so bcrypt runs once per key per process.
type Keys struct {
	entries []KeyHash

	mu    sync.RWMutex
	known map[string]string // sha256(key) -> username
}

// NewKeys creates a validator for the given entries.
func NewKeys(entries []KeyHash) *Keys {
	return &Keys{
		entries: entries,
		known:   make(map[string]string),
	}
}

// Len returns the number of configured keys.
func (k *Keys) Len() int {
	return len(k.entries)
}

// Validate returns the user a key belongs to, or "" if it matches none.
func (k *Keys) Validate(key string) string {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return ""
	}

	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])

	k.mu.RLock()
	user, ok := k.known[digest]
	k.mu.RUnlock()

	if ok {
		return user
	}

	for _, e := range k.entries {
		if bcrypt.CompareHashAndPassword([]byte(e.Hash), []byte(key)) == nil {
			k.mu.Lock()
			k.known[digest] = e.Username
			k.mu.Unlock()

			return e.Username
		}
	}

	return ""
}

// GenerateKey returns a new random API key and its bcrypt hash.
func GenerateKey() (key, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating key: %w", err)
	}

	key = APIKeyPrefix + hex.EncodeToString(b)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing key: %w", err)
	}

	return key, string(h), nil
}
