package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nhle/heritage-client/internal/api"
	"github.com/nhle/heritage-client/internal/event"
	"github.com/nhle/heritage-client/internal/store"
	"github.com/nhle/heritage-client/tests/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     gosync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward by d, running due timers in order on the
// calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// pending reports how many timers are armed.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

// feedBackend fakes the notification endpoints.
type feedBackend struct {
	mu          gosync.Mutex
	countStatus int
	count       int
	countGate   chan struct{}
	feed        []map[string]any
	mediaFails  map[string]bool
	hits        map[string]int
	queries     []string
}

func newFeedBackend() *feedBackend {
	return &feedBackend{hits: map[string]int{}, mediaFails: map[string]bool{}}
}

func (b *feedBackend) hit(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hits[key]++
}

func (b *feedBackend) hitCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[key]
}

func (b *feedBackend) set(fn func(b *feedBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *feedBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		b.hit("count")
		b.mu.Lock()
		status, count, gate := b.countStatus, b.count, b.countGate
		b.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"unread_count": count})
	})
	mux.HandleFunc("GET /api/v1/notifications/count/unread", func(w http.ResponseWriter, r *http.Request) {
		b.hit("count-alt")
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("GET /api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		b.hit("feed")
		b.mu.Lock()
		b.queries = append(b.queries, r.URL.RawQuery)
		feed := b.feed
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(feed)
	})

	mux.HandleFunc("GET /api/v1/media", func(w http.ResponseWriter, r *http.Request) {
		b.hit("media")
		item := r.URL.Query().Get("cultural_item_id")
		b.mu.Lock()
		fails := b.mediaFails[item]
		b.mu.Unlock()
		if fails {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "url": "https://cdn/" + item + ".jpg", "thumbnail_url": "https://cdn/" + item + "-thumb.jpg"},
		})
	})

	// Only the second mark-read route exists.
	mux.HandleFunc("PUT /api/v1/notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.hit("read " + r.PathValue("id"))
		var body map[string]bool
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body["is_read"] {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		b.mu.Lock()
		b.count = max(b.count-1, 0)
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PUT /api/v1/notifications/mark-all-read", func(w http.ResponseWriter, r *http.Request) {
		b.hit("read-all")
		b.mu.Lock()
		b.count = 0
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

type pollerHarness struct {
	backend *feedBackend
	bus     *event.Bus
	clock   *fakeClock
	store   store.Store
	poller  *Poller
}

func newPollerHarness(t *testing.T, token string) *pollerHarness {
	t.Helper()
	b := newFeedBackend()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	bus := event.New(0)
	client := api.NewClient(srv.URL+"/api/v1", 2*time.Second, bus, api.WithHTTPClient(srv.Client()))
	clock := newFakeClock()
	st := testutil.NewTestStore(t)

	p := New(client, staticToken(token), st, DefaultBackoffPolicy(), WithClock(clock))
	t.Cleanup(p.Stop)

	return &pollerHarness{backend: b, bus: bus, clock: clock, store: st, poller: p}
}

func TestStart_FetchesImmediatelyThenOnInterval(t *testing.T) {
	h := newPollerHarness(t, "tok")
	h.backend.set(func(b *feedBackend) { b.count = 3 })

	var seen []int
	h.poller.Subscribe(func(n int) { seen = append(seen, n) })

	h.poller.Start()
	assert.True(t, h.poller.Running())
	h.clock.Advance(0)

	assert.Equal(t, 1, h.backend.hitCount("count"))
	assert.Equal(t, 3, h.poller.UnreadCount())
	assert.Equal(t, []int{3}, seen)

	h.clock.Advance(29 * time.Second)
	assert.Equal(t, 1, h.backend.hitCount("count"))
	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.backend.hitCount("count"))
	assert.Equal(t, []int{3}, seen, "unchanged counts are not re-broadcast")
}

func TestStart_Idempotent(t *testing.T) {
	h := newPollerHarness(t, "tok")

	h.poller.Start()
	h.poller.Start()

	assert.Equal(t, 1, h.clock.pending())
}

func TestStop_PreventsScheduledFetch(t *testing.T) {
	h := newPollerHarness(t, "tok")

	h.poller.Start()
	h.poller.Stop()
	h.clock.Advance(time.Hour)

	assert.Zero(t, h.backend.hitCount("count"))
	assert.Zero(t, h.clock.pending())
	assert.False(t, h.poller.Running())
}

func TestStop_AfterTicksPreventsFurtherFetches(t *testing.T) {
	h := newPollerHarness(t, "tok")
	h.backend.set(func(b *feedBackend) { b.count = 2 })

	h.poller.Start()
	h.clock.Advance(0)
	require.Equal(t, 1, h.backend.hitCount("count"))

	h.poller.Stop()
	h.clock.Advance(time.Hour)

	assert.Equal(t, 1, h.backend.hitCount("count"))
	assert.Zero(t, h.poller.UnreadCount(), "stop discards feed state")
}

func TestStop_DiscardsInFlightResult(t *testing.T) {
	h := newPollerHarness(t, "tok")
	gate := make(chan struct{})
	h.backend.set(func(b *feedBackend) {
		b.count = 5
		b.countGate = gate
	})

	h.poller.Start()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.clock.Advance(0)
	}()
	require.Eventually(t, func() bool { return h.backend.hitCount("count") == 1 }, 2*time.Second, 5*time.Millisecond)

	h.poller.Stop()
	close(gate)
	<-done

	assert.Zero(t, h.poller.UnreadCount())
	assert.Zero(t, h.poller.Failures(), "a cancelled fetch is not a backend failure")
	assert.Zero(t, h.clock.pending(), "a stopped tick does not re-arm")
}

func TestTick_SkipsWhileFetchInFlight(t *testing.T) {
	h := newPollerHarness(t, "tok")
	gate := make(chan struct{})
	h.backend.set(func(b *feedBackend) { b.countGate = gate })

	h.poller.Start()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.poller.FetchUnreadCount(context.Background())
	}()
	require.Eventually(t, func() bool { return h.backend.hitCount("count") == 1 }, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(0)
	assert.Equal(t, 1, h.backend.hitCount("count"), "tick skipped")
	assert.Equal(t, 1, h.clock.pending(), "skipped tick still re-arms")

	close(gate)
	<-done
}

func TestFailures_BackOffAndRecover(t *testing.T) {
	h := newPollerHarness(t, "tok")
	h.backend.set(func(b *feedBackend) { b.countStatus = http.StatusServiceUnavailable })

	h.poller.Start()
	h.clock.Advance(0)
	for range 2 {
		h.clock.Advance(h.poller.Interval())
	}

	assert.Equal(t, 3, h.poller.Failures())
	assert.GreaterOrEqual(t, h.poller.Interval(), 60*time.Second)
	assert.LessOrEqual(t, h.poller.Interval(), 5*time.Minute)

	backedOff := h.poller.Interval()
	hitsBefore := h.backend.hitCount("count")
	h.clock.Advance(backedOff - time.Second)
	assert.Equal(t, hitsBefore, h.backend.hitCount("count"), "timer re-armed at the longer interval")

	h.backend.set(func(b *feedBackend) { b.countStatus = 0 })
	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.poller.Failures())
	assert.Equal(t, backedOff, h.poller.Interval(), "one success does not reset the interval")
}

func TestFetchUnreadCount_UnauthorizedExpiresSession(t *testing.T) {
	h := newPollerHarness(t, "tok")
	h.backend.set(func(b *feedBackend) { b.countStatus = http.StatusUnauthorized })
	expired := 0
	h.bus.Subscribe(event.SessionExpired, func(event.Event) {
		expired++
		h.poller.Stop()
	})

	h.poller.Start()
	h.clock.Advance(0)

	assert.Equal(t, 1, expired)
	assert.Zero(t, h.poller.Failures(), "expiry is not a backoff failure")
	assert.False(t, h.poller.Running())
	assert.Zero(t, h.clock.pending())
	assert.Zero(t, h.backend.hitCount("count-alt"), "expiry stops the fallback chain")
}

func TestFetchUnreadCount_NoSession(t *testing.T) {
	h := newPollerHarness(t, "")

	_, err := h.poller.FetchUnreadCount(context.Background())

	assert.True(t, api.IsSessionExpired(err))
	assert.Zero(t, h.backend.hitCount("count"))
}

func TestParseCount(t *testing.T) {
	tests := map[string]int{
		`{"unread_count": 4}`: 4,
		`{"count": 2}`:        2,
		`7`:                   7,
	}
	for raw, want := range tests {
		n, err := parseCount(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, n, raw)
	}

	_, err := parseCount(json.RawMessage(`{"total": 1}`))
	assert.Error(t, err)
}

func TestFetchFeed_PagesThumbnailsAndCache(t *testing.T) {
	h := newPollerHarness(t, "tok")
	h.backend.set(func(b *feedBackend) {
		b.feed = []map[string]any{
			{"id": 1, "message": "older", "is_read": false, "created_at": "2024-03-01T10:00:00", "cultural_item_id": 11},
			{"id": 2, "message": "newer", "is_read": true, "created_at": "2024-03-02T10:00:00", "cultural_item_id": 12},
			{"id": 3, "message": "no item", "is_read": false, "created_at": "2024-03-01T12:00:00", "comment_id": 5},
		}
		b.mediaFails["12"] = true
	})
	ctx := context.Background()

	items, err := h.poller.FetchFeed(ctx, FeedQuery{UnreadOnly: true, Page: 1, PageSize: 3})
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.Equal(t, "newer", items[0].Message, "newest first")
	assert.Empty(t, items[0].Thumbnail, "thumbnail failure leaves the item intact")
	assert.Equal(t, "no item", items[1].Message)
	assert.Equal(t, "https://cdn/11-thumb.jpg", items[2].Thumbnail)
	assert.Equal(t, 2, h.backend.hitCount("media"), "only items with an artifact are enriched")

	h.backend.mu.Lock()
	assert.Equal(t, "limit=3&skip=0&unread_only=true", h.backend.queries[0])
	h.backend.mu.Unlock()

	cached, err := h.poller.Notifications(ctx, false)
	require.NoError(t, err)
	assert.Len(t, cached, 3)

	h.backend.set(func(b *feedBackend) {
		b.feed = []map[string]any{{"id": 4, "message": "page two", "created_at": "2024-02-01T00:00:00"}}
	})
	_, err = h.poller.FetchFeed(ctx, FeedQuery{Page: 2, PageSize: 3})
	require.NoError(t, err)

	h.backend.mu.Lock()
	assert.Equal(t, "limit=3&skip=3", h.backend.queries[1])
	h.backend.mu.Unlock()

	cached, err = h.poller.Notifications(ctx, false)
	require.NoError(t, err)
	require.Len(t, cached, 4)
	assert.Equal(t, "page two", cached[3].Message)

	unread, err := h.poller.Notifications(ctx, true)
	require.NoError(t, err)
	assert.Len(t, unread, 3)
}

func TestFetchFeed_WrappedResponse(t *testing.T) {
	items, err := decodeList[map[string]any](json.RawMessage(`{"items":[{"id":1}]}`), "items")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = decodeList[map[string]any](json.RawMessage(`null`), "items")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMarkRead_FallsBackAndRefreshesCount(t *testing.T) {
	h := newPollerHarness(t, "tok")
	ctx := context.Background()
	h.backend.set(func(b *feedBackend) {
		b.count = 2
		b.feed = []map[string]any{
			{"id": 1, "message": "a", "created_at": "2024-03-02T00:00:00"},
			{"id": 2, "message": "b", "created_at": "2024-03-01T00:00:00"},
		}
	})
	_, err := h.poller.FetchFeed(ctx, FeedQuery{Page: 1})
	require.NoError(t, err)
	_, err = h.poller.FetchUnreadCount(ctx)
	require.NoError(t, err)

	require.NoError(t, h.poller.MarkRead(ctx, "1"))

	assert.Equal(t, 1, h.backend.hitCount("read 1"))
	assert.Equal(t, 1, h.poller.UnreadCount())
	assert.Equal(t, 2, h.backend.hitCount("count"), "authoritative count re-fetched")

	unread, err := h.poller.Notifications(ctx, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "b", unread[0].Message)
}

func TestMarkAllRead_ZeroesCount(t *testing.T) {
	h := newPollerHarness(t, "tok")
	ctx := context.Background()
	h.backend.set(func(b *feedBackend) {
		b.count = 2
		b.feed = []map[string]any{
			{"id": 1, "message": "a"},
			{"id": 2, "message": "b"},
		}
	})
	_, err := h.poller.FetchFeed(ctx, FeedQuery{Page: 1})
	require.NoError(t, err)
	_, err = h.poller.FetchUnreadCount(ctx)
	require.NoError(t, err)

	var seen []int
	h.poller.Subscribe(func(n int) { seen = append(seen, n) })

	require.NoError(t, h.poller.MarkAllRead(ctx))

	assert.Zero(t, h.poller.UnreadCount())
	assert.Equal(t, []int{0}, seen)
	unread, err := h.poller.Notifications(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestMutations_RequireSession(t *testing.T) {
	h := newPollerHarness(t, "")
	ctx := context.Background()

	assert.True(t, api.IsSessionExpired(h.poller.MarkRead(ctx, "1")))
	assert.True(t, api.IsSessionExpired(h.poller.MarkAllRead(ctx)))
	_, err := h.poller.FetchFeed(ctx, FeedQuery{})
	assert.True(t, api.IsSessionExpired(err))
	assert.Zero(t, h.backend.hitCount("feed"))
}
