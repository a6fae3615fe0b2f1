package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// tokenKey is the single keyring entry holding the remembered token.
const tokenKey = "session-token"

// KeyringConfig selects the keyring service and file fallback location.
type KeyringConfig struct {
	ServiceName string
	FileDir     string

	// Backends restricts the allowed backends; nil allows the platform
	// keychains with the encrypted file as last resort.
	Backends []keyring.BackendType

	// FilePassword encrypts the file backend.
	FilePassword string
}

// KeyringSlot stores the remembered token in the system keyring.
type KeyringSlot struct {
	ring keyring.Keyring
}

// OpenKeyring returns a Slot backed by a configured keyring instance.
func OpenKeyring(cfg KeyringConfig) (*KeyringSlot, error) {
	backends := cfg.Backends
	if backends == nil {
		backends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}
	password := cfg.FilePassword
	if password == "" {
		password = cfg.ServiceName + "-file-key"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.ServiceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(password),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &KeyringSlot{ring: ring}, nil
}

// Load retrieves the remembered token. A missing entry yields ErrEmpty.
func (s *KeyringSlot) Load() (Token, error) {
	item, err := s.ring.Get(tokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return Token{}, ErrEmpty
	}
	if err != nil {
		return Token{}, fmt.Errorf("getting credential %q: %w", tokenKey, err)
	}

	var tok Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return Token{}, fmt.Errorf("decoding credential %q: %w", tokenKey, err)
	}
	if tok.Value == "" {
		return Token{}, ErrEmpty
	}
	return tok, nil
}

// Save stores tok in the system keyring.
func (s *KeyringSlot) Save(tok Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding credential %q: %w", tokenKey, err)
	}

	err = s.ring.Set(keyring.Item{
		Key:         tokenKey,
		Data:        data,
		Label:       "heritage session token",
		Description: "bearer token remembered across restarts",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", tokenKey, err)
	}

	return nil
}

// Clear removes the remembered token. Clearing an empty slot succeeds.
func (s *KeyringSlot) Clear() error {
	err := s.ring.Remove(tokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !isNotExist(err) {
		return fmt.Errorf("deleting credential %q: %w", tokenKey, err)
	}
	return nil
}
