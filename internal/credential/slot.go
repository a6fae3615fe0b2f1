// Package credential holds the single durable slot for the remembered
// session token.
package credential

import (
	"errors"
	"io/fs"
	gosync "sync"
)

// ErrEmpty is returned by Load when no token is stored.
var ErrEmpty = errors.New("credential: no stored token")

// Token is the persisted session credential.
type Token struct {
	Value   string `json:"token"`
	Persist bool   `json:"persist"`
}

// Slot is a single durable location for the session token.
type Slot interface {
	Load() (Token, error)
	Save(Token) error
	Clear() error
}

// MemorySlot is a process-local Slot used in tests and when the system
// keyring is disabled.
type MemorySlot struct {
	mu    gosync.Mutex
	tok   Token
	saved bool
}

// NewMemorySlot returns an empty MemorySlot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

// Load returns the stored token or ErrEmpty.
func (m *MemorySlot) Load() (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return Token{}, ErrEmpty
	}
	return m.tok, nil
}

// Save replaces the stored token.
func (m *MemorySlot) Save(tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = tok
	m.saved = true
	return nil
}

// Clear empties the slot.
func (m *MemorySlot) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = Token{}
	m.saved = false
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
