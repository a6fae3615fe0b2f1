package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/heritage-client/internal/api"
	"github.com/nhle/heritage-client/internal/credential"
	"github.com/nhle/heritage-client/internal/event"
	"github.com/nhle/heritage-client/internal/model"
)

type observer struct {
	id uint64
	fn func(Snapshot)
}

// Manager is the single source of truth for the session. All session
// mutations go through it; every other component reads snapshots.
type Manager struct {
	api    *api.Client
	slot   credential.Slot
	bus    *event.Bus
	logger *zap.Logger
	now    func() time.Time

	mu        gosync.Mutex
	state     State
	token     string
	user      *model.User
	loading   int
	lastError string
	expired   bool
	loggingIn bool

	// epoch is bumped by logout and expiry. Results of requests started
	// under an older epoch are discarded.
	epoch uint64

	observers []observer
	nextObs   uint64

	unsubscribe func()
}

// New creates a Manager and subscribes it to session expiry on bus.
func New(client *api.Client, slot credential.Slot, bus *event.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		api:    client,
		slot:   slot,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
	if bus != nil {
		m.unsubscribe = bus.Subscribe(event.SessionExpired, func(e event.Event) {
			m.expireToken(e.Scope, e.Reason)
		})
	}
	return m
}

// Close detaches the manager from the event bus.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Snapshot returns a copy of the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Token returns the current bearer token, or "" when anonymous.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Subscribe registers fn to receive a snapshot after every state change.
// Observers run synchronously, outside the manager lock.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	m.nextObs++
	id := m.nextObs
	m.observers = append(m.observers, observer{id: id, fn: fn})
	m.mu.Unlock()

	var once gosync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, o := range m.observers {
				if o.id == id {
					m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// ClearError resets the last error message.
func (m *Manager) ClearError() {
	m.update(func() bool {
		if m.lastError == "" {
			return false
		}
		m.lastError = ""
		return true
	})
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     m.state,
		Token:     m.token,
		IsLoading: m.loading > 0,
		LastError: m.lastError,
		Expired:   m.expired,
	}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	s.IsAuthenticated = m.state == StateAuthenticated && m.token != "" && m.user != nil
	return s
}

// update runs fn under the lock and, if fn reports a change, notifies
// observers with the resulting snapshot after releasing it.
func (m *Manager) update(fn func() bool) {
	m.mu.Lock()
	if !fn() {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	obs := make([]func(Snapshot), len(m.observers))
	for i, o := range m.observers {
		obs[i] = o.fn
	}
	m.mu.Unlock()

	for _, fn := range obs {
		fn(snap)
	}
}

// clearLocked drops the in-memory credential and invalidates in-flight work.
func (m *Manager) clearLocked() {
	m.epoch++
	m.token = ""
	m.user = nil
}

func (m *Manager) expire(reason string) {
	m.expireToken("", reason)
}

// expireToken ends the session if token is the current one. An empty
// token matches any session; a rejection of an older token is ignored.
func (m *Manager) expireToken(token, reason string) {
	ended := false
	m.update(func() bool {
		if m.token == "" && m.user == nil {
			return false
		}
		if token != "" && token != m.token {
			return false
		}
		m.clearLocked()
		m.state = StateAnonymous
		m.expired = true
		ended = true
		return true
	})
	if ended {
		m.logger.Info("session expired", zap.String("reason", reason))
	} else if token != "" {
		m.logger.Debug("ignoring expiry of a previous session", zap.String("reason", reason))
	}
}

// expireIfCurrent expires the session only if no logout or expiry has
// happened since epoch.
func (m *Manager) expireIfCurrent(epoch uint64, reason string) {
	m.mu.Lock()
	current := m.epoch == epoch
	m.mu.Unlock()
	if current {
		m.expire(reason)
	}
}

// fail records err as the last error and returns it.
func (m *Manager) fail(err error) error {
	m.update(func() bool {
		m.lastError = api.Message(err)
		return true
	})
	return err
}

// Restore reads the durable slot once at startup. A remembered, unexpired
// token is validated by fetching the user profile.
func (m *Manager) Restore(ctx context.Context) error {
	tok, err := m.slot.Load()
	if errors.Is(err, credential.ErrEmpty) {
		return nil
	}
	if err != nil {
		m.logger.Warn("loading remembered token", zap.Error(err))
		return fmt.Errorf("loading remembered token: %w", err)
	}
	if !tok.Persist {
		return nil
	}
	if exp, ok := tokenExpiry(tok.Value); ok && !exp.After(m.now()) {
		m.logger.Info("remembered token already expired", zap.Time("exp", exp))
		m.forgetRemembered()
		return nil
	}

	var epoch uint64
	m.update(func() bool {
		m.epoch++
		epoch = m.epoch
		m.token = tok.Value
		m.user = nil
		m.state = StateAuthenticating
		m.expired = false
		return true
	})

	user, err := m.FetchUser(ctx)
	if err == nil && user == nil {
		err = ErrSuperseded
	}
	if err != nil {
		// Only a rejected token is forgotten; a transient failure keeps it.
		if api.IsSessionExpired(err) {
			m.forgetRemembered()
		}
		m.update(func() bool {
			if m.epoch != epoch {
				return false
			}
			m.clearLocked()
			m.state = StateAnonymous
			return true
		})
		return fmt.Errorf("restoring session: %w", err)
	}
	m.logger.Info("session restored", zap.String("user", user.DisplayName()))
	return nil
}

func (m *Manager) forgetRemembered() {
	if err := m.slot.Clear(); err != nil {
		m.logger.Warn("clearing remembered token", zap.Error(err))
	}
}

// Login exchanges credentials for a token, persists it when requested,
// and loads the user profile. Only one login may be in flight.
func (m *Manager) Login(ctx context.Context, creds model.Credentials) error {
	if err := validateCredentials(creds); err != nil {
		return m.fail(err)
	}

	var epoch uint64
	busy := false
	m.update(func() bool {
		if m.loggingIn {
			busy = true
			return false
		}
		m.loggingIn = true
		m.loading++
		m.lastError = ""
		m.expired = false
		m.clearLocked()
		epoch = m.epoch
		m.state = StateAuthenticating
		return true
	})
	if busy {
		return ErrLoginInProgress
	}

	saved, err := m.login(ctx, creds, epoch)
	if err != nil {
		if saved {
			if cerr := m.slot.Clear(); cerr != nil {
				m.logger.Warn("clearing remembered token after failed login", zap.Error(cerr))
			}
		}
		msg := api.Message(err)
		if errors.Is(err, ErrSuperseded) {
			msg = ""
		}
		m.update(func() bool {
			m.loggingIn = false
			m.loading--
			if m.epoch == epoch {
				m.clearLocked()
			}
			m.token = ""
			m.user = nil
			// A profile 401 during this attempt is a failed login, not an
			// expired session.
			m.expired = false
			m.state = StateAuthError
			if msg != "" {
				m.lastError = msg
			}
			return true
		})
		m.update(func() bool {
			if m.state != StateAuthError {
				return false
			}
			m.state = StateAnonymous
			return true
		})
		m.logger.Info("login failed", zap.String("kind", api.KindOf(err).String()), zap.Error(err))
		return fmt.Errorf("login: %w", err)
	}

	m.update(func() bool {
		m.loggingIn = false
		m.loading--
		return true
	})
	m.logger.Info("logged in", zap.Bool("remember", creds.Remember))
	return nil
}

// login performs the token exchange. saved reports whether this attempt
// wrote the durable slot.
func (m *Manager) login(ctx context.Context, creds model.Credentials, epoch uint64) (saved bool, err error) {
	form := url.Values{
		"username": {creds.Identifier},
		"password": {creds.Secret},
	}
	tmpl := api.Request{Method: http.MethodPost, Form: form, NoExpirySignal: true}

	var body map[string]any
	if err := m.api.Fallback(ctx, api.Candidates(tmpl, api.TokenPaths...), &body); err != nil {
		return false, err
	}
	token := extractToken(body)
	if token == "" {
		return false, api.NewError(api.KindNoToken, "login", nil)
	}

	stale := false
	m.update(func() bool {
		if m.epoch != epoch {
			stale = true
			return false
		}
		m.token = token
		return true
	})
	if stale {
		return false, ErrSuperseded
	}

	if creds.Remember {
		if err := m.slot.Save(credential.Token{Value: token, Persist: true}); err != nil {
			m.logger.Warn("saving remembered token", zap.Error(err))
		} else {
			saved = true
		}
	} else if err := m.slot.Clear(); err != nil {
		m.logger.Warn("clearing remembered token", zap.Error(err))
	}

	user, err := m.FetchUser(ctx)
	if err != nil {
		return saved, err
	}
	if user == nil {
		return saved, ErrSuperseded
	}
	return saved, nil
}

// FetchUser validates the current token by loading the user profile. It
// is a no-op returning (nil, nil) without a token. A rejected token ends
// the session; other failures leave it intact.
func (m *Manager) FetchUser(ctx context.Context) (*model.User, error) {
	var token string
	var epoch uint64
	m.update(func() bool {
		token = m.token
		epoch = m.epoch
		if token == "" {
			return false
		}
		m.loading++
		m.lastError = ""
		return true
	})
	if token == "" {
		return nil, nil
	}

	var u model.User
	tmpl := api.Request{Method: http.MethodGet, Token: token}
	err := m.api.Fallback(ctx, api.Candidates(tmpl, api.CurrentUserPaths...), &u)

	if api.KindOf(err) == api.KindForbidden {
		if m.bus != nil {
			m.bus.PublishSessionExpired(token, "403 on user profile")
		}
		err = &api.Error{
			Kind:    api.KindSessionExpired,
			Status:  http.StatusForbidden,
			Op:      "fetch user",
			Message: api.GenericMessage(api.KindSessionExpired),
			Err:     err,
		}
	}
	if api.IsSessionExpired(err) {
		// The bus may have collapsed this signal into an earlier one.
		m.expireIfCurrent(epoch, "profile rejected")
	}

	var out *model.User
	m.update(func() bool {
		m.loading--
		if err != nil {
			if !api.IsSessionExpired(err) {
				m.lastError = api.Message(err)
			}
			return true
		}
		if m.epoch != epoch || m.token != token {
			return true
		}
		uc := u
		m.user = &uc
		m.state = StateAuthenticated
		m.expired = false
		cp := u
		out = &cp
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return out, nil
}

// Logout notifies the backend best-effort, then clears the session and
// the durable slot unconditionally.
func (m *Manager) Logout(ctx context.Context) error {
	var token string
	m.update(func() bool {
		token = m.token
		m.loading++
		return true
	})

	if token != "" {
		reqs := []api.Request{
			{Method: http.MethodDelete, Path: api.LogoutPath, Token: token, NoExpirySignal: true},
			{Method: http.MethodPost, Path: api.LogoutPath, Token: token, NoExpirySignal: true},
		}
		if err := m.api.Fallback(ctx, reqs, nil); err != nil {
			m.logger.Warn("backend logout failed, clearing locally", zap.Error(err))
		}
	}

	slotErr := m.slot.Clear()
	m.update(func() bool {
		m.loading--
		m.clearLocked()
		m.lastError = ""
		m.expired = false
		m.state = StateAnonymous
		return true
	})
	m.logger.Info("logged out")

	if slotErr != nil {
		return fmt.Errorf("clearing remembered token: %w", slotErr)
	}
	return nil
}

// run wraps a single request/response operation with loading and error
// bookkeeping.
func (m *Manager) run(ctx context.Context, op string, fn func(ctx context.Context, token string, epoch uint64) error) error {
	var token string
	var epoch uint64
	m.update(func() bool {
		token = m.token
		epoch = m.epoch
		m.loading++
		m.lastError = ""
		return true
	})

	err := fn(ctx, token, epoch)

	m.update(func() bool {
		m.loading--
		if err != nil && !api.IsSessionExpired(err) {
			m.lastError = api.Message(err)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func notAuthenticated(op string) error {
	return &api.Error{Kind: api.KindSessionExpired, Op: op, Message: "Please log in to continue."}
}

// Register creates an account. It never logs the new user in.
func (m *Manager) Register(ctx context.Context, reg model.Registration) (*model.User, error) {
	if err := validateRegistration(reg); err != nil {
		return nil, m.fail(err)
	}

	var created model.User
	err := m.run(ctx, "register", func(ctx context.Context, _ string, _ uint64) error {
		tmpl := api.Request{Method: http.MethodPost, JSON: reg}
		return m.api.Fallback(ctx, api.Candidates(tmpl, api.RegisterPaths...), &created)
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("account registered", zap.String("username", reg.Username))
	return &created, nil
}

// UpdateProfile sends changed profile fields and merges the result into
// the current user.
func (m *Manager) UpdateProfile(ctx context.Context, upd model.ProfileUpdate) (*model.User, error) {
	if upd.Email != nil {
		if err := validateEmail("update profile", *upd.Email); err != nil {
			return nil, m.fail(err)
		}
	}
	if m.Token() == "" {
		return nil, notAuthenticated("update profile")
	}

	var updated model.User
	err := m.run(ctx, "update profile", func(ctx context.Context, token string, epoch uint64) error {
		if err := m.api.Put(ctx, api.ProfilePath, token, upd, &updated); err != nil {
			return err
		}
		m.update(func() bool {
			if m.epoch != epoch || m.user == nil {
				return false
			}
			merged := m.user.Merge(updated)
			m.user = &merged
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if u := m.Snapshot().User; u != nil {
		return u, nil
	}
	return &updated, nil
}

type changePasswordBody struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword changes the password of the signed-in user.
func (m *Manager) ChangePassword(ctx context.Context, current, next string) error {
	if current == "" {
		return m.fail(api.Validation("change password", "Please enter your current password."))
	}
	if err := validateNewPassword("change password", next); err != nil {
		return m.fail(err)
	}
	if m.Token() == "" {
		return notAuthenticated("change password")
	}

	return m.run(ctx, "change password", func(ctx context.Context, token string, _ uint64) error {
		return m.api.Post(ctx, api.ChangePasswordPath, token,
			changePasswordBody{CurrentPassword: current, NewPassword: next}, nil)
	})
}

// RequestPasswordReset asks the backend to mail a reset token.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	if err := validateEmail("request password reset", email); err != nil {
		return m.fail(err)
	}
	return m.run(ctx, "request password reset", func(ctx context.Context, _ string, _ uint64) error {
		return m.api.Post(ctx, api.ResetRequestPath, "", map[string]string{"email": email}, nil)
	})
}

type resetBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword completes a reset with the mailed token.
func (m *Manager) ResetPassword(ctx context.Context, resetToken, next string) error {
	if resetToken == "" {
		return m.fail(api.Validation("reset password", "Reset token is required."))
	}
	if err := validateNewPassword("reset password", next); err != nil {
		return m.fail(err)
	}
	return m.run(ctx, "reset password", func(ctx context.Context, _ string, _ uint64) error {
		return m.api.Post(ctx, api.ResetConfirmPath, "", resetBody{Token: resetToken, NewPassword: next}, nil)
	})
}
