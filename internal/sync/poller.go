// Package sync keeps the notification feed in step with the backend while
// a session is active: a self-rearming unread-count poll with backoff,
// plus on-demand feed pages and read-state mutations.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/heritage-client/internal/api"
	"github.com/nhle/heritage-client/internal/model"
	"github.com/nhle/heritage-client/internal/store"
)

// fetchTimeout bounds a single scheduled count fetch.
const fetchTimeout = 30 * time.Second

// thumbnailConcurrency bounds concurrent media lookups per feed page.
const thumbnailConcurrency = 4

const defaultPageSize = 20

// ErrStopped is returned when Stop discarded the result of a request that
// was in flight.
var ErrStopped = errors.New("sync: poller stopped")

// TokenSource yields the current bearer token, or "" without a session.
type TokenSource interface {
	Token() string
}

// FeedQuery selects one page of the notification feed. Pages start at 1.
type FeedQuery struct {
	UnreadOnly bool
	Page       int
	PageSize   int
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the poller logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithPageSize sets the default feed page size.
func WithPageSize(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

type countObserver struct {
	id uint64
	fn func(int)
}

// Poller polls the unread-notification count while running and serves
// feed reads and read-state mutations.
type Poller struct {
	api      *api.Client
	tokens   TokenSource
	store    store.Store
	clock    Clock
	policy   BackoffPolicy
	logger   *zap.Logger
	pageSize int

	mu         gosync.Mutex
	running    bool
	gen        uint64
	timer      Timer
	cancelTick context.CancelFunc
	backoff    Backoff
	unread     int
	inFlight   int

	observers []countObserver
	nextObs   uint64
}

// New creates a stopped Poller.
func New(client *api.Client, tokens TokenSource, st store.Store, policy BackoffPolicy, opts ...Option) *Poller {
	policy = policy.withDefaults()
	p := &Poller{
		api:      client,
		tokens:   tokens,
		store:    st,
		clock:    RealClock(),
		policy:   policy,
		logger:   zap.NewNop(),
		pageSize: defaultPageSize,
		backoff:  policy.Initial(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start resets feed state and begins polling with an immediate count
// fetch. Calling Start on a running poller does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.gen++
	gen := p.gen
	p.backoff = p.policy.Initial()
	changed := p.unread != 0
	p.unread = 0
	p.timer = p.clock.AfterFunc(0, func() { p.tick(gen) })
	p.mu.Unlock()

	p.clearCache()
	if changed {
		p.notify(0)
	}
	p.logger.Debug("notification polling started", zap.Duration("interval", p.policy.Base))
}

// Stop cancels the timer and any in-flight scheduled fetch, and discards
// feed state. No fetch starts after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancelTick != nil {
		p.cancelTick()
		p.cancelTick = nil
	}
	p.backoff = p.policy.Initial()
	changed := p.unread != 0
	p.unread = 0
	p.mu.Unlock()

	p.clearCache()
	if changed {
		p.notify(0)
	}
	if wasRunning {
		p.logger.Debug("notification polling stopped")
	}
}

// Running reports whether the poller is armed.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// UnreadCount returns the last known unread count.
func (p *Poller) UnreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unread
}

// Interval returns the current poll interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backoff.Interval
}

// Failures returns the current consecutive-failure counter.
func (p *Poller) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backoff.Failures
}

// Subscribe registers fn to be called with the unread count whenever it
// changes. fn runs on the goroutine that observed the change.
func (p *Poller) Subscribe(fn func(int)) func() {
	p.mu.Lock()
	p.nextObs++
	id := p.nextObs
	p.observers = append(p.observers, countObserver{id: id, fn: fn})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.observers = slices.DeleteFunc(p.observers, func(o countObserver) bool { return o.id == id })
	}
}

func (p *Poller) notify(n int) {
	p.mu.Lock()
	obs := make([]func(int), len(p.observers))
	for i, o := range p.observers {
		obs[i] = o.fn
	}
	p.mu.Unlock()

	for _, fn := range obs {
		fn(n)
	}
}

// setUnread records n if gen is still current and notifies on change.
func (p *Poller) setUnread(gen uint64, n int) {
	p.mu.Lock()
	if p.gen != gen || p.unread == n {
		p.mu.Unlock()
		return
	}
	p.unread = n
	p.mu.Unlock()
	p.notify(n)
}

func (p *Poller) clearCache() {
	if err := p.store.ClearNotifications(context.Background()); err != nil {
		p.logger.Warn("clearing notification cache", zap.Error(err))
	}
}

// tick runs one scheduled count fetch and re-arms the timer.
func (p *Poller) tick(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	p.mu.Lock()
	if !p.running || p.gen != gen {
		p.mu.Unlock()
		return
	}
	skip := p.inFlight > 0
	p.cancelTick = cancel
	p.mu.Unlock()

	if skip {
		p.logger.Debug("count fetch still in flight, skipping tick")
	} else if _, err := p.fetchCount(ctx, gen); err != nil && !errors.Is(err, ErrStopped) {
		// Scheduled failures only feed the backoff.
		p.logger.Debug("unread count fetch failed", zap.Error(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.gen != gen {
		return
	}
	p.cancelTick = nil
	p.timer = p.clock.AfterFunc(p.backoff.Interval, func() { p.tick(gen) })
}

// FetchUnreadCount fetches the authoritative unread count. Success and
// failure drive the backoff state; a rejected token ends the session
// through the expiry signal instead.
func (p *Poller) FetchUnreadCount(ctx context.Context) (int, error) {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	return p.fetchCount(ctx, gen)
}

func (p *Poller) fetchCount(ctx context.Context, gen uint64) (int, error) {
	token := p.tokens.Token()
	if token == "" {
		return 0, errNoSession("fetch unread count")
	}

	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()

	n, err := p.requestCount(ctx, token)

	p.mu.Lock()
	p.inFlight--
	if p.gen != gen {
		p.mu.Unlock()
		return 0, ErrStopped
	}
	if err != nil {
		if !api.IsSessionExpired(err) && ctx.Err() == nil {
			p.backoff = p.policy.OnFailure(p.backoff)
			p.logger.Info("unread count backoff",
				zap.Int("failures", p.backoff.Failures),
				zap.Duration("interval", p.backoff.Interval),
			)
		}
		p.mu.Unlock()
		return 0, err
	}
	p.backoff = p.policy.OnSuccess(p.backoff)
	p.mu.Unlock()

	p.setUnread(gen, n)
	return n, nil
}

func (p *Poller) requestCount(ctx context.Context, token string) (int, error) {
	var raw json.RawMessage
	tmpl := api.Request{Method: http.MethodGet, Token: token}
	if err := p.api.Fallback(ctx, api.Candidates(tmpl, api.UnreadCountPaths...), &raw); err != nil {
		return 0, err
	}
	n, err := parseCount(raw)
	if err != nil {
		return 0, &api.Error{Kind: api.KindServer, Op: "fetch unread count", Message: "The server returned an unexpected response.", Err: err}
	}
	return n, nil
}

// parseCount accepts {"unread_count": n}, {"count": n}, or a bare number.
func parseCount(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return 0, fmt.Errorf("decoding unread count: %w", err)
	}
	for _, key := range []string{"unread_count", "count"} {
		if v, ok := body[key]; ok {
			if err := json.Unmarshal(v, &n); err != nil {
				return 0, fmt.Errorf("decoding %s: %w", key, err)
			}
			return n, nil
		}
	}
	return 0, errors.New("unread count missing from response")
}

// FetchFeed loads one page of notifications, newest first, attaching a
// best-effort thumbnail to items that reference an artifact. Page 1
// replaces the cached feed; later pages append to it.
func (p *Poller) FetchFeed(ctx context.Context, q FeedQuery) ([]model.Notification, error) {
	token := p.tokens.Token()
	if token == "" {
		return nil, errNoSession("fetch notifications")
	}
	page := max(q.Page, 1)
	size := q.PageSize
	if size <= 0 {
		size = p.pageSize
	}

	query := url.Values{
		"skip":  {strconv.Itoa((page - 1) * size)},
		"limit": {strconv.Itoa(size)},
	}
	if q.UnreadOnly {
		query.Set("unread_only", "true")
	}

	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	var raw json.RawMessage
	if err := p.api.Get(ctx, api.NotificationsPath, token, query, &raw); err != nil {
		return nil, err
	}
	items, err := decodeList[model.Notification](raw, "items", "notifications")
	if err != nil {
		return nil, &api.Error{Kind: api.KindServer, Op: "fetch notifications", Message: "The server returned an unexpected response.", Err: err}
	}
	for i := range items {
		items[i].Type = items[i].Type.Normalize()
	}
	slices.SortStableFunc(items, func(a, b model.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt.Time)
	})

	p.attachThumbnails(ctx, token, items)

	p.mu.Lock()
	stale := p.gen != gen
	p.mu.Unlock()
	if stale {
		return nil, ErrStopped
	}

	if page == 1 {
		err = p.store.ReplaceNotifications(ctx, items)
	} else {
		err = p.store.AppendNotifications(ctx, items)
	}
	if err != nil {
		p.logger.Warn("caching notifications", zap.Error(err))
	}
	return items, nil
}

func (p *Poller) attachThumbnails(ctx context.Context, token string, items []model.Notification) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(thumbnailConcurrency)

	for i := range items {
		if items[i].ItemID == "" || items[i].Thumbnail != "" {
			continue
		}
		g.Go(func() error {
			query := url.Values{
				"cultural_item_id": {items[i].ItemID.String()},
				"limit":            {"1"},
			}
			var raw json.RawMessage
			if err := p.api.Get(gctx, api.MediaPath, token, query, &raw); err != nil {
				p.logger.Debug("thumbnail lookup failed",
					zap.String("item", items[i].ItemID.String()),
					zap.Error(err),
				)
				return nil
			}
			media, err := decodeList[model.Media](raw, "items", "media")
			if err == nil && len(media) > 0 {
				items[i].Thumbnail = media[0].Thumbnail()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// decodeList accepts a bare JSON array or an object wrapping one under
// any of keys.
func decodeList[T any](raw json.RawMessage, keys ...string) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var out []T
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decoding list: %w", err)
		}
		return out, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("decoding list wrapper: %w", err)
	}
	for _, k := range keys {
		if v, ok := wrapper[k]; ok {
			if err := json.Unmarshal(v, &out); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", k, err)
			}
			return out, nil
		}
	}
	return nil, errors.New("no list in response")
}

type readBody struct {
	IsRead bool `json:"is_read"`
}

// MarkRead marks one notification read on the backend, flips it in the
// cache, and re-fetches the authoritative count.
func (p *Poller) MarkRead(ctx context.Context, id string) error {
	token := p.tokens.Token()
	if token == "" {
		return errNoSession("mark notification read")
	}

	tmpl := api.Request{Method: http.MethodPut, Token: token, JSON: readBody{IsRead: true}}
	if err := p.api.Fallback(ctx, api.Candidates(tmpl, api.MarkReadPaths(id)...), nil); err != nil {
		return err
	}

	if err := p.store.MarkNotificationRead(ctx, id); err != nil {
		p.logger.Warn("updating cached notification", zap.String("id", id), zap.Error(err))
	}

	p.mu.Lock()
	gen := p.gen
	optimistic := max(p.unread-1, 0)
	p.mu.Unlock()
	p.setUnread(gen, optimistic)

	p.refreshCount(ctx)
	return nil
}

// MarkAllRead marks every notification read, zeroes the count, and
// re-fetches the authoritative count.
func (p *Poller) MarkAllRead(ctx context.Context) error {
	token := p.tokens.Token()
	if token == "" {
		return errNoSession("mark all notifications read")
	}

	tmpl := api.Request{Method: http.MethodPut, Token: token}
	if err := p.api.Fallback(ctx, api.Candidates(tmpl, api.MarkAllReadPaths...), nil); err != nil {
		return err
	}

	if err := p.store.MarkAllNotificationsRead(ctx); err != nil {
		p.logger.Warn("updating cached notifications", zap.Error(err))
	}

	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	p.setUnread(gen, 0)

	p.refreshCount(ctx)
	return nil
}

func (p *Poller) refreshCount(ctx context.Context) {
	if _, err := p.FetchUnreadCount(ctx); err != nil && !errors.Is(err, ErrStopped) {
		p.logger.Debug("refreshing unread count", zap.Error(err))
	}
}

// Notifications returns the cached feed in order.
func (p *Poller) Notifications(ctx context.Context, unreadOnly bool) ([]model.Notification, error) {
	items, err := p.store.GetNotifications(ctx, store.NotificationFilter{UnreadOnly: unreadOnly})
	if err != nil {
		return nil, fmt.Errorf("reading cached notifications: %w", err)
	}
	return items, nil
}

func errNoSession(op string) error {
	return &api.Error{Kind: api.KindSessionExpired, Op: op, Message: "Please log in to continue."}
}
