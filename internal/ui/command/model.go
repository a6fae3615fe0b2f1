package command

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/heritage-client/internal/theme"
)

// Name identifies a palette command.
type Name string

const (
	Refresh    Name = "refresh"
	UnreadOnly Name = "unread"
	ShowAll    Name = "all"
	ReadAll    Name = "read-all"
	Help       Name = "help"
	Logout     Name = "logout"
	Quit       Name = "quit"
)

// commands lists every command with its accepted aliases, in the order
// they are shown.
var commands = []struct {
	name    Name
	aliases []string
	desc    string
}{
	{Refresh, []string{"r", "reload"}, "reload the first page"},
	{UnreadOnly, []string{"u"}, "show unread notifications only"},
	{ShowAll, nil, "show every notification"},
	{ReadAll, []string{"ra"}, "mark every notification read"},
	{Help, []string{"h", "?"}, "show key bindings"},
	{Logout, []string{"signout"}, "sign out"},
	{Quit, []string{"q", "exit"}, "quit"},
}

// CommandMsg is emitted when the user executes a known command.
type CommandMsg Name

// CancelMsg is emitted when the palette is dismissed.
type CancelMsg struct{}

// Parse resolves input to a command name or alias.
func Parse(input string) (Name, error) {
	in := strings.ToLower(strings.TrimSpace(input))
	for _, c := range commands {
		if in == string(c.name) {
			return c.name, nil
		}
		for _, a := range c.aliases {
			if in == a {
				return c.name, nil
			}
		}
	}
	return "", fmt.Errorf("unknown command %q", input)
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	err    string
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.Width = max(width-6, 0)

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Open clears the previous input and focuses the palette.
func (m *Model) Open() tea.Cmd {
	m.input.Reset()
	m.err = ""
	return tea.Batch(m.input.Focus(), textinput.Blink)
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			m.input.Blur()
			return m, func() tea.Msg { return CancelMsg{} }

		case "enter":
			in := strings.TrimSpace(m.input.Value())
			if in == "" {
				return m, nil
			}
			name, err := Parse(in)
			if err != nil {
				m.err = err.Error()
				return m, nil
			}
			m.input.Reset()
			m.input.Blur()
			return m, func() tea.Msg { return CommandMsg(name) }
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	rows := []string{titleStyle.Render("Command Palette"), m.input.View()}
	if m.err != "" {
		rows = append(rows, theme.ErrorStyle.Render(m.err))
	}
	rows = append(rows, "")
	for _, c := range commands {
		rows = append(rows, theme.HelpStyle.Render(fmt.Sprintf("%-10s %s", c.name, c.desc)))
	}

	return theme.DetailPanelStyle.
		Width(max(m.width-4, 0)).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = max(width-6, 0)
}
