package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/heritage-client/internal/api"
	"github.com/nhle/heritage-client/internal/credential"
	"github.com/nhle/heritage-client/internal/event"
	"github.com/nhle/heritage-client/internal/session"
	"github.com/nhle/heritage-client/internal/store"
	appsync "github.com/nhle/heritage-client/internal/sync"
)

// runtime owns every long-lived component of one command invocation.
// Construction order follows the dependency chain; Close tears down in
// reverse.
type runtime struct {
	bus     *event.Bus
	client  *api.Client
	slot    credential.Slot
	session *session.Manager
	store   *store.SQLiteStore
	poller  *appsync.Poller
	unsub   func()
}

// openRuntime wires the components from the loaded config. With arm set,
// the poller follows the session: it starts on authentication and stops
// on anything else.
func openRuntime(arm bool) (*runtime, error) {
	bus := event.New(time.Duration(cfg.Session.ExpiryWindowMs) * time.Millisecond)
	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout(), bus, api.WithLogger(logger.Named("api")))

	slot, err := openSlot()
	if err != nil {
		return nil, err
	}

	if err := ensureDir(cfg.Cache.Path); err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("opening notification cache: %w", err)
	}

	sess := session.New(client, slot, bus, logger.Named("session"))
	poller := appsync.New(client, sess, st, appsync.PolicyFromConfig(cfg.Notifications),
		appsync.WithLogger(logger.Named("poller")),
		appsync.WithPageSize(cfg.Notifications.PageSize),
	)

	rt := &runtime{
		bus:     bus,
		client:  client,
		slot:    slot,
		session: sess,
		store:   st,
		poller:  poller,
		unsub:   func() {},
	}
	if arm {
		rt.unsub = sess.Subscribe(func(s session.Snapshot) {
			switch {
			case s.IsAuthenticated:
				poller.Start()
			case poller.Running():
				poller.Stop()
			}
		})
	}
	return rt, nil
}

func openSlot() (credential.Slot, error) {
	if noKeyring {
		return credential.NewMemorySlot(), nil
	}
	slot, err := credential.OpenKeyring(credential.KeyringConfig{
		ServiceName: cfg.Session.KeyringService,
		FileDir:     cfg.Session.KeyringDir,
	})
	if err != nil {
		logger.Warn("keyring unavailable, session will not be remembered", zap.Error(err))
		return credential.NewMemorySlot(), nil
	}
	return slot, nil
}

// ensureDir creates the parent directory of a file-backed cache.
func ensureDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return nil
}

// restore loads the remembered session. Failures only mean the user
// starts signed out.
func (r *runtime) restore(ctx context.Context) {
	if err := r.session.Restore(ctx); err != nil {
		logger.Warn("session not restored", zap.Error(err))
	}
}

// requireSession restores the remembered session and fails if there is
// none.
func (r *runtime) requireSession(ctx context.Context) error {
	r.restore(ctx)
	if !r.session.Snapshot().IsAuthenticated {
		return fmt.Errorf("not logged in: run 'heritage login' first")
	}
	return nil
}

func (r *runtime) Close() {
	r.unsub()
	r.poller.Stop()
	r.session.Close()
	if err := r.store.Close(); err != nil {
		logger.Warn("closing notification cache", zap.Error(err))
	}
}
