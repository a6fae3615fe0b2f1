// Package notifications is the notification feed view: a paged list with
// mark-read actions and an unread-only filter.
package notifications

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/heritage-client/internal/keys"
	"github.com/nhle/heritage-client/internal/model"
	appsync "github.com/nhle/heritage-client/internal/sync"
	"github.com/nhle/heritage-client/internal/theme"
)

const requestTimeout = 30 * time.Second

// Feed is the subset of the poller the view drives.
type Feed interface {
	FetchFeed(ctx context.Context, q appsync.FeedQuery) ([]model.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// FeedLoadedMsg carries one fetched page.
type FeedLoadedMsg struct {
	Items      []model.Notification
	Page       int
	UnreadOnly bool
	Err        error
}

// MarkedMsg reports the outcome of a mark-read request. All is set for
// mark-all.
type MarkedMsg struct {
	ID  model.ID
	All bool
	Err error
}

// OpenMsg asks the root model to show a notification in full.
type OpenMsg struct {
	Notification model.Notification
}

// FailedMsg asks the root model to surface a failed feed operation.
type FailedMsg struct {
	Op  string
	Err error
}

// LogoutMsg is dispatched when the user asks to sign out.
type LogoutMsg struct{}

// Model is the notification feed view.
type Model struct {
	list       list.Model
	feed       Feed
	keys       *keys.KeyMap
	pageSize   int
	page       int
	unreadOnly bool
	more       bool
	loading    bool
	width      int
	height     int
}

// New creates a new feed view.
func New(feed Feed, k *keys.KeyMap, pageSize, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("notification", "notifications")
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:     l,
		feed:     feed,
		keys:     k,
		pageSize: pageSize,
		page:     1,
		width:    width,
		height:   height,
	}
}

// Load fetches the first page for the current filter.
func (m *Model) Load() tea.Cmd {
	return m.fetch(1)
}

// Reset drops every loaded item, used when the session ends.
func (m *Model) Reset() {
	m.list.SetItems(nil)
	m.page = 1
	m.more = false
	m.loading = false
}

// SetUnreadOnly switches the filter and reloads the first page.
func (m *Model) SetUnreadOnly(on bool) tea.Cmd {
	m.unreadOnly = on
	m.list.Title = "Notifications"
	if on {
		m.list.Title = "Unread notifications"
	}
	m.list.ResetSelected()
	return m.fetch(1)
}

// UnreadOnly reports whether the unread-only filter is active.
func (m Model) UnreadOnly() bool {
	return m.unreadOnly
}

// Len returns the number of loaded notifications.
func (m Model) Len() int {
	return len(m.list.Items())
}

func (m *Model) fetch(page int) tea.Cmd {
	m.loading = true
	feed := m.feed
	q := appsync.FeedQuery{UnreadOnly: m.unreadOnly, Page: page, PageSize: m.pageSize}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		items, err := feed.FetchFeed(ctx, q)
		return FeedLoadedMsg{Items: items, Page: page, UnreadOnly: q.UnreadOnly, Err: err}
	}
}

// MarkRead returns a command that marks one notification read.
func (m Model) MarkRead(id model.ID) tea.Cmd {
	feed := m.feed
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return MarkedMsg{ID: id, Err: feed.MarkRead(ctx, id.String())}
	}
}

// MarkAllRead returns a command that marks every notification read.
func (m Model) MarkAllRead() tea.Cmd {
	feed := m.feed
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return MarkedMsg{All: true, Err: feed.MarkAllRead(ctx)}
	}
}

// Update handles messages for the feed view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case FeedLoadedMsg:
		return m.handleLoaded(msg)

	case MarkedMsg:
		return m.handleMarked(msg)

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleLoaded(msg FeedLoadedMsg) (Model, tea.Cmd) {
	if msg.UnreadOnly != m.unreadOnly {
		// Filter changed while the request was out.
		return m, nil
	}
	m.loading = false
	if msg.Err != nil {
		if errors.Is(msg.Err, appsync.ErrStopped) {
			return m, nil
		}
		return m, failed("load notifications", msg.Err)
	}

	items := make([]list.Item, 0, len(msg.Items))
	for _, n := range msg.Items {
		items = append(items, Item{Notification: n})
	}
	if msg.Page > 1 {
		items = slices.Concat(m.list.Items(), items)
	}
	m.page = msg.Page
	m.more = len(msg.Items) >= m.pageSize
	cmd := m.list.SetItems(items)
	return m, cmd
}

func (m Model) handleMarked(msg MarkedMsg) (Model, tea.Cmd) {
	if msg.Err != nil {
		op := "mark notification read"
		if msg.All {
			op = "mark all notifications read"
		}
		return m, failed(op, msg.Err)
	}

	items := m.list.Items()
	kept := make([]list.Item, 0, len(items))
	for _, li := range items {
		it, ok := li.(Item)
		if !ok {
			continue
		}
		if msg.All || it.Notification.ID == msg.ID {
			if m.unreadOnly {
				continue
			}
			it.Notification.Read = true
		}
		kept = append(kept, it)
	}
	cmd := m.list.SetItems(kept)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.MarkRead):
		it, ok := m.list.SelectedItem().(Item)
		if !ok || it.Notification.Read {
			return m, nil
		}
		return m, m.MarkRead(it.Notification.ID)

	case key.Matches(msg, m.keys.Open):
		it, ok := m.list.SelectedItem().(Item)
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg { return OpenMsg{Notification: it.Notification} }

	case key.Matches(msg, m.keys.MarkAllRead):
		return m, m.MarkAllRead()

	case key.Matches(msg, m.keys.UnreadToggle):
		cmd := m.SetUnreadOnly(!m.unreadOnly)
		return m, cmd

	case key.Matches(msg, m.keys.Refresh):
		cmd := m.fetch(1)
		return m, cmd

	case key.Matches(msg, m.keys.NextPage):
		if !m.more || m.loading {
			return m, nil
		}
		cmd := m.fetch(m.page + 1)
		return m, cmd

	case key.Matches(msg, m.keys.Logout):
		return m, func() tea.Msg { return LogoutMsg{} }
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func failed(op string, err error) tea.Cmd {
	return func() tea.Msg { return FailedMsg{Op: op, Err: err} }
}

// View renders the list, with a hint when more pages are available.
func (m Model) View() string {
	v := m.list.View()
	if m.more {
		v += "\n" + theme.HelpStyle.Render("  n to load more")
	}
	return v
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, max(height-1, 0))
}
