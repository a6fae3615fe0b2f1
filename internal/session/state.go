// Package session owns the authentication lifecycle: token acquisition,
// opt-in persistence, profile validation, account operations, and the
// reaction to session expiry signalled by any network call site.
package session

import (
	"errors"

	"github.com/nhle/heritage-client/internal/model"
)

// State is the session lifecycle state.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	// StateAuthError is emitted once after a failed attempt before the
	// manager settles back to StateAnonymous.
	StateAuthError
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthError:
		return "auth_error"
	default:
		return "unknown"
	}
}

var (
	// ErrLoginInProgress rejects a login started while another is in flight.
	ErrLoginInProgress = errors.New("session: login already in progress")

	// ErrSuperseded is returned when a logout or expiry overtook the
	// operation before it could commit.
	ErrSuperseded = errors.New("session: superseded by logout or expiry")
)

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	State           State
	Token           string
	User            *model.User
	IsAuthenticated bool
	IsLoading       bool
	LastError       string

	// Expired is set when the session ended because the backend stopped
	// accepting the token; it clears on the next login or logout.
	Expired bool
}
