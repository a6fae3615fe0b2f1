package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/heritage-client/internal/keys"
	"github.com/nhle/heritage-client/internal/model"
	"github.com/nhle/heritage-client/internal/theme"
)

// BackMsg signals the parent to navigate back to the feed.
type BackMsg struct{}

// MarkReadMsg asks the parent to mark the shown notification as read.
type MarkReadMsg struct {
	ID model.ID
}

// Model is the notification detail view component.
type Model struct {
	notification *model.Notification
	viewport     viewport.Model
	keys         *keys.KeyMap
	width        int
	height       int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, max(height-2, 0))
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(msg, m.keys.MarkRead):
			if m.notification == nil || m.notification.Read {
				return m, nil
			}
			id := m.notification.ID
			return m, func() tea.Msg { return MarkReadMsg{ID: id} }
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.notification == nil {
		emptyStyle := lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray)
		return emptyStyle.Render("No notification selected")
	}

	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	n := m.notification
	if n == nil {
		return ""
	}

	var sections []string

	kind := string(n.Type.Normalize())
	typeBadge := theme.TypeStyle(kind).Render(strings.ToUpper(kind))
	readBadge := theme.UnreadBadgeStyle.Render("UNREAD")
	if n.Read {
		readBadge = theme.ReadItemStyle.Render("read")
	}
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, typeBadge, "  ", readBadge))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", metaStyle.Render(fmt.Sprintf("%-10s", label+":")), valStyle.Render(value))
	}

	sections = append(sections, row("ID", n.ID.String()))
	if !n.CreatedAt.IsZero() {
		sections = append(sections, row("Received", n.CreatedAt.Local().Format("2006-01-02 15:04")))
	}
	if t, ok := n.Target(); ok {
		sections = append(sections, row("Links to", fmt.Sprintf("%s %s", t.Kind, t.ID)))
	}
	if n.Thumbnail != "" {
		sections = append(sections, row("Media", n.Thumbnail))
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	sections = append(sections, "", separator, "")

	body := lipgloss.NewStyle().Width(max(m.width-4, 10)).Render(n.Message)
	if strings.TrimSpace(n.Message) == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No message")
	}
	sections = append(sections, body)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetNotification updates the notification being displayed.
func (m *Model) SetNotification(n model.Notification) {
	m.notification = &n
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// MarkRead flips the shown notification to read if it matches id.
func (m *Model) MarkRead(id model.ID) {
	if m.notification == nil || (id != "" && m.notification.ID != id) {
		return
	}
	m.notification.Read = true
	m.viewport.SetContent(m.renderContent())
}

// Notification returns the notification being displayed, if any.
func (m Model) Notification() (model.Notification, bool) {
	if m.notification == nil {
		return model.Notification{}, false
	}
	return *m.notification, true
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = max(height-2, 0)
	if m.notification != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
