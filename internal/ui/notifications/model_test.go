package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/heritage-client/internal/api"
	"github.com/nhle/heritage-client/internal/keys"
	"github.com/nhle/heritage-client/internal/model"
	appsync "github.com/nhle/heritage-client/internal/sync"
)

type fakeFeed struct {
	queries []appsync.FeedQuery
	pages   map[int][]model.Notification
	marked  []string
	markAll int
	err     error
}

func (f *fakeFeed) FetchFeed(_ context.Context, q appsync.FeedQuery) ([]model.Notification, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[q.Page], nil
}

func (f *fakeFeed) MarkRead(_ context.Context, id string) error {
	f.marked = append(f.marked, id)
	return f.err
}

func (f *fakeFeed) MarkAllRead(context.Context) error {
	f.markAll++
	return f.err
}

func notification(id string, read bool) model.Notification {
	return model.Notification{ID: model.ID(id), Message: "note " + id, Read: read, Type: model.NotificationComment}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// step feeds msg to m and, if a command comes back, runs it and feeds its
// message in too.
func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Msg) {
	t.Helper()
	m, cmd := m.Update(msg)
	if cmd == nil {
		return m, nil
	}
	out := cmd()
	m, _ = m.Update(out)
	return m, out
}

func loaded(t *testing.T, feed *fakeFeed) Model {
	t.Helper()
	m := New(feed, keys.DefaultKeyMap(), 2, 80, 20)
	msg := m.Load()()
	m, _ = m.Update(msg)
	return m
}

func itemAt(t *testing.T, m Model, i int) model.Notification {
	t.Helper()
	it, ok := m.list.Items()[i].(Item)
	require.True(t, ok)
	return it.Notification
}

func TestLoad_FirstPageThenNextPage(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]model.Notification{
		1: {notification("1", false), notification("2", true)},
		2: {notification("3", false)},
	}}
	m := loaded(t, feed)
	assert.Equal(t, 2, m.Len())
	assert.True(t, m.more, "a full page implies more may follow")

	m, _ = step(t, m, runes("n"))
	assert.Equal(t, 3, m.Len())
	assert.False(t, m.more)
	assert.Equal(t, 2, feed.queries[1].Page)
	assert.Equal(t, 2, feed.queries[1].PageSize)

	m, _ = step(t, m, runes("n"))
	assert.Len(t, feed.queries, 2, "no request past the last page")
}

func TestMarkRead_FlipsSelectedItem(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]model.Notification{
		1: {notification("1", false), notification("2", false)},
	}}
	m := loaded(t, feed)

	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []string{"1"}, feed.marked)
	assert.True(t, itemAt(t, m, 0).Read)
	assert.False(t, itemAt(t, m, 1).Read)

	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []string{"1"}, feed.marked, "already-read items are not re-sent")
}

func TestMarkAllRead_InUnreadOnlyModeEmptiesList(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]model.Notification{
		1: {notification("1", false)},
	}}
	m := loaded(t, feed)

	m, _ = step(t, m, runes("u"))
	assert.True(t, m.UnreadOnly())
	assert.True(t, feed.queries[len(feed.queries)-1].UnreadOnly)
	assert.Equal(t, 1, m.Len())

	m, _ = step(t, m, runes("A"))
	assert.Equal(t, 1, feed.markAll)
	assert.Equal(t, 0, m.Len())
}

func TestStaleFilterResultIgnored(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]model.Notification{1: {notification("1", false)}}}
	m := New(feed, keys.DefaultKeyMap(), 20, 80, 20)

	stale := m.Load()()
	m, _ = m.Update(runes("u"))
	m, _ = m.Update(stale)
	assert.Equal(t, 0, m.Len())
}

func TestFailuresAreReported(t *testing.T) {
	expired := &api.Error{Kind: api.KindSessionExpired, Message: "Please log in to continue."}
	feed := &fakeFeed{err: expired}
	m := New(feed, keys.DefaultKeyMap(), 20, 80, 20)

	m, cmd := m.Update(m.Load()())
	require.NotNil(t, cmd)
	failed, ok := cmd().(FailedMsg)
	require.True(t, ok)
	assert.Equal(t, "load notifications", failed.Op)
	assert.True(t, api.IsSessionExpired(failed.Err))

	_, cmd = m.Update(FeedLoadedMsg{Page: 1, Err: appsync.ErrStopped})
	assert.Nil(t, cmd, "results from a stopped poller are dropped silently")

	_, cmd = m.Update(MarkedMsg{All: true, Err: errors.New("boom")})
	require.NotNil(t, cmd)
	assert.Equal(t, "mark all notifications read", cmd().(FailedMsg).Op)
}

func TestLogoutKey(t *testing.T) {
	m := New(&fakeFeed{}, keys.DefaultKeyMap(), 20, 80, 20)
	_, cmd := m.Update(runes("L"))
	require.NotNil(t, cmd)
	assert.Equal(t, LogoutMsg{}, cmd())
}

func TestOpenKey(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]model.Notification{1: {notification("4", false)}}}
	m := New(feed, keys.DefaultKeyMap(), 20, 80, 20)
	m, _ = m.Update(m.Load()())

	_, cmd := m.Update(runes("o"))
	require.NotNil(t, cmd)
	open, ok := cmd().(OpenMsg)
	require.True(t, ok)
	assert.Equal(t, model.ID("4"), open.Notification.ID)
	assert.Empty(t, feed.marked, "opening does not mark read")
}

func TestDelegateLine(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := ItemDelegate{now: func() time.Time { return now }}

	n := notification("1", false)
	n.Thumbnail = "http://cdn/x.jpg"
	n.CreatedAt = model.Timestamp{Time: now.Add(-3 * time.Hour)}

	line := d.line(n, false)
	assert.Contains(t, line, "●")
	assert.Contains(t, line, "comment")
	assert.Contains(t, line, "note 1")
	assert.Contains(t, line, "▣")
	assert.Contains(t, line, "3h ago")

	n.Read = true
	n.Thumbnail = ""
	line = d.line(n, true)
	assert.NotContains(t, line, "●")
	assert.NotContains(t, line, "▣")
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{2 * time.Hour, "2h ago"},
		{3 * 24 * time.Hour, "3d ago"},
		{30 * 24 * time.Hour, "Apr 01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relativeTime(now.Add(-tt.ago), now))
	}
	assert.Empty(t, relativeTime(time.Time{}, now))
}
