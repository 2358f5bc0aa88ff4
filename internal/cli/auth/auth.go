// Package auth keeps the CLI's backend session in the OS keychain.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/physicstutor/tutorportal/internal/backend"
)

const (
	service = "tutorportal-cli"
)

// getKeyringKey returns a unique key for storing sessions per backend
func getKeyringKey(backendURL string) string {
	return fmt.Sprintf("session-%s", backendURL)
}

// KeyringTokenStore implements backend.TokenStore on the OS
// keychain/credential manager
type KeyringTokenStore struct {
	key string
}

// NewKeyringTokenStore creates a store for sessions issued by backendURL
func NewKeyringTokenStore(backendURL string) *KeyringTokenStore {
	return &KeyringTokenStore{key: getKeyringKey(backendURL)}
}

// LoadSession retrieves the session. Nothing stored is nil, nil.
func (k *KeyringTokenStore) LoadSession(ctx context.Context) (*backend.Session, error) {
	data, err := keyring.Get(service, k.key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess backend.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to parse stored session: %w", err)
	}
	return &sess, nil
}

// SaveSession persists the session securely
func (k *KeyringTokenStore) SaveSession(ctx context.Context, sess *backend.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := keyring.Set(service, k.key, string(data)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteSession removes the session
func (k *KeyringTokenStore) DeleteSession(ctx context.Context) error {
	if err := keyring.Delete(service, k.key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
