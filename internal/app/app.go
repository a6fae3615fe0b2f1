// Package app is the root Bubble Tea model. It routes between the login
// form and the notification feed and mirrors session and unread-count
// changes into the header and status bar.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/heritage-client/internal/api"
	"github.com/nhle/heritage-client/internal/keys"
	"github.com/nhle/heritage-client/internal/model"
	"github.com/nhle/heritage-client/internal/session"
	"github.com/nhle/heritage-client/internal/ui"
	"github.com/nhle/heritage-client/internal/ui/command"
	"github.com/nhle/heritage-client/internal/ui/detail"
	helpview "github.com/nhle/heritage-client/internal/ui/help"
	"github.com/nhle/heritage-client/internal/ui/login"
	"github.com/nhle/heritage-client/internal/ui/notifications"
)

const (
	toastDuration = 4 * time.Second
	loginTimeout  = 30 * time.Second
	expiredNotice = "Session expired. Press any key to sign in again."
)

// Session is the subset of the session manager the TUI drives.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()
	Login(ctx context.Context, creds model.Credentials) error
	Logout(ctx context.Context) error
	ClearError()
}

// Notifier is the subset of the poller the TUI drives.
type Notifier interface {
	notifications.Feed
	Subscribe(fn func(int)) func()
	UnreadCount() int
	Interval() time.Duration
	Failures() int
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewNotifications
	ViewDetail
	ViewHelp
	ViewCommand
)

type sessionMsg session.Snapshot

type unreadCountMsg struct {
	count int
}

type loginResultMsg struct {
	err error
}

type logoutResultMsg struct{}

type toastExpiredMsg struct {
	seq int
}

// Model is the root Bubble Tea model.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	session      Session
	notifier     Notifier
	bridge       *bridge
	loginView    login.Model
	feedView     notifications.Model
	detailView   detail.Model
	helpView     helpview.Model
	commandView  command.Model
	snap         session.Snapshot
	unreadCount  int
	notice       string
	toast        string
	toastSeq     int
	ready        bool
}

// New creates the root model. pageSize is the feed page size.
func New(s Session, n Notifier, pageSize int) Model {
	k := keys.DefaultKeyMap()
	return Model{
		keys:        k,
		session:     s,
		notifier:    n,
		bridge:      newBridge(s, n),
		loginView:   login.New(80, 24),
		feedView:    notifications.New(n, k, pageSize, 80, 24),
		detailView:  detail.New(k, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		commandView: command.New(80, 24),
		snap:        s.Snapshot(),
		unreadCount: n.UnreadCount(),
	}
}

// Close detaches the model from the session and the poller.
func (m Model) Close() {
	m.bridge.close()
}

// Init picks the first view from the restored session and starts
// listening for session and unread-count changes.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.bridge.waitSession(), m.bridge.waitUnread()}
	if m.snap.IsAuthenticated {
		return tea.Batch(append(cmds, func() tea.Msg { return startFeedMsg{} })...)
	}
	return tea.Batch(append(cmds, func() tea.Msg { return startLoginMsg{} })...)
}

type startFeedMsg struct{}

type startLoginMsg struct{}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.loginView.SetSize(w, h)
		m.feedView.SetSize(w, h)
		m.detailView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		return m.updateActiveView(msg)

	case startFeedMsg:
		cmd := m.showFeed()
		return m, cmd

	case startLoginMsg:
		cmd := m.showLogin("")
		return m, cmd

	case sessionMsg:
		prev := m.snap
		m.snap = session.Snapshot(msg)
		if m.snap.Expired && prev.IsAuthenticated && !m.snap.IsAuthenticated {
			m.notice = expiredNotice
		}
		return m, m.bridge.waitSession()

	case unreadCountMsg:
		m.unreadCount = msg.count
		return m, m.bridge.waitUnread()

	case login.SubmitMsg:
		return m, m.login(msg.Credentials)

	case login.CancelMsg:
		return m, tea.Quit

	case loginResultMsg:
		if msg.err != nil {
			if errors.Is(msg.err, session.ErrLoginInProgress) {
				return m, nil
			}
			m.loginView.SetError(api.Message(msg.err))
			cmd := m.loginView.Start()
			return m, cmd
		}
		m.session.ClearError()
		m.notice = ""
		cmd := m.showFeed()
		return m, cmd

	case notifications.FeedLoadedMsg:
		// Feed results land even when another view is showing.
		var cmd tea.Cmd
		m.feedView, cmd = m.feedView.Update(msg)
		return m, cmd

	case notifications.MarkedMsg:
		var cmd tea.Cmd
		m.feedView, cmd = m.feedView.Update(msg)
		if msg.Err == nil {
			m.detailView.MarkRead(msg.ID)
		}
		return m, cmd

	case notifications.OpenMsg:
		m.detailView.SetNotification(msg.Notification)
		m.currentView = ViewDetail
		return m, nil

	case detail.BackMsg:
		m.currentView = ViewNotifications
		return m, nil

	case detail.MarkReadMsg:
		return m, m.feedView.MarkRead(msg.ID)

	case command.CommandMsg:
		return m.runCommand(command.Name(msg))

	case command.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case notifications.LogoutMsg:
		return m, m.logout()

	case logoutResultMsg:
		m.feedView.Reset()
		m.notice = ""
		cmd := m.showLogin("")
		return m, cmd

	case notifications.FailedMsg:
		if api.IsSessionExpired(msg.Err) {
			m.feedView.Reset()
			cmd := m.showLogin(api.Message(msg.Err))
			return m, cmd
		}
		cmd := m.showToast(fmt.Sprintf("Could not %s: %s", msg.Op, api.Message(msg.Err)))
		return m, cmd

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.currentView == ViewLogin || m.currentView == ViewCommand {
			break
		}

		switch msg.String() {
		case "q":
			return m, tea.Quit

		case "?":
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.openHelp()
			return m, nil

		case ":":
			if m.currentView == ViewHelp || !m.snap.IsAuthenticated {
				break
			}
			m.previousView = m.currentView
			m.currentView = ViewCommand
			cmd := m.commandView.Open()
			return m, cmd

		case "esc":
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
		}

		if (m.currentView == ViewNotifications || m.currentView == ViewDetail) && !m.snap.IsAuthenticated {
			// Expired sessions are only surfaced once the user acts.
			m.feedView.Reset()
			reason := ""
			if m.snap.Expired {
				reason = "Your session has expired. Please sign in again."
			}
			cmd := m.showLogin(reason)
			return m, cmd
		}
	}

	return m.updateActiveView(msg)
}

func (m *Model) openHelp() {
	m.previousView = m.currentView
	m.currentView = ViewHelp
	m.helpView.SetStatus(m.statusLines()...)
}

// runCommand executes a palette command against the feed or the session.
func (m Model) runCommand(name command.Name) (tea.Model, tea.Cmd) {
	m.currentView = m.previousView
	switch name {
	case command.Refresh:
		m.currentView = ViewNotifications
		cmd := m.feedView.Load()
		return m, cmd
	case command.UnreadOnly, command.ShowAll:
		m.currentView = ViewNotifications
		cmd := m.feedView.SetUnreadOnly(name == command.UnreadOnly)
		return m, cmd
	case command.ReadAll:
		return m, m.feedView.MarkAllRead()
	case command.Help:
		m.openHelp()
		return m, nil
	case command.Logout:
		return m, m.logout()
	case command.Quit:
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) showLogin(reason string) tea.Cmd {
	m.currentView = ViewLogin
	m.notice = ""
	m.loginView.SetError(reason)
	return m.loginView.Start()
}

func (m *Model) showFeed() tea.Cmd {
	m.currentView = ViewNotifications
	return m.feedView.Load()
}

func (m *Model) showToast(text string) tea.Cmd {
	m.toastSeq++
	m.toast = text
	seq := m.toastSeq
	return tea.Tick(toastDuration, func(time.Time) tea.Msg {
		return toastExpiredMsg{seq: seq}
	})
}

func (m Model) login(creds model.Credentials) tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()
		return loginResultMsg{err: s.Login(ctx, creds)}
	}
}

func (m Model) logout() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()
		// Logout always ends the local session; backend failures are logged there.
		_ = s.Logout(ctx)
		return logoutResultMsg{}
	}
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewNotifications:
		m.feedView, cmd = m.feedView.Update(msg)
	case ViewDetail:
		m.detailView, cmd = m.detailView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Heritage", m.unreadBadge(), m.account())

	var statusBar string
	switch {
	case m.toast != "":
		statusBar = m.layout.RenderNotice(m.toast)
	case m.notice != "":
		statusBar = m.layout.RenderNotice(m.notice)
	default:
		statusBar = m.layout.RenderStatusBar(m.keyHints())
	}

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

func (m Model) unreadBadge() string {
	if !m.snap.IsAuthenticated || m.unreadCount <= 0 {
		return ""
	}
	return fmt.Sprintf("[%d unread]", m.unreadCount)
}

func (m Model) account() string {
	if !m.snap.IsAuthenticated {
		return "signed out"
	}
	return m.snap.User.DisplayName()
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLogin:
		return m.loginView.View()
	case ViewNotifications:
		return m.feedView.View()
	case ViewDetail:
		return m.detailView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewHelp:
		return m.helpView.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewLogin:
		return "enter next | ctrl+c quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewDetail:
		return "esc back | enter mark read | j/k scroll | q quit"
	case ViewCommand:
		return "enter run | esc cancel"
	default:
		return "q quit | ? help | : commands | o open | enter read | A all read | u unread | r refresh | L log out"
	}
}

func (m Model) statusLines() []string {
	lines := []string{}
	if m.snap.IsAuthenticated {
		u := m.snap.User
		lines = append(lines, fmt.Sprintf("Signed in as %s (%s)", u.DisplayName(), u.EffectiveRole()))
	}
	line := fmt.Sprintf("Checking for notifications every %s", m.notifier.Interval().Round(time.Second))
	if f := m.notifier.Failures(); f > 0 {
		line += fmt.Sprintf(", %d recent failures", f)
	}
	return append(lines, line)
}
