// Package login renders the sign-in form used by the TUI and the
// interactive login command.
package login

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/heritage-client/internal/model"
	"github.com/nhle/heritage-client/internal/theme"
)

// SubmitMsg is dispatched when the user completes the form.
type SubmitMsg struct {
	Credentials model.Credentials
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	identifier string
	password   string
	remember   bool
}

func (fb *formBindings) credentials() model.Credentials {
	return model.Credentials{
		Identifier: strings.TrimSpace(fb.identifier),
		Secret:     fb.password,
		Remember:   fb.remember,
	}
}

// Model is the Bubble Tea model for the sign-in form.
type Model struct {
	form   *huh.Form
	fb     *formBindings
	err    string
	busy   bool
	width  int
	height int
}

// New creates a new login form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{remember: true},
		width:  width,
		height: height,
	}
}

// Start (re)builds the form. The identifier and remember choice survive
// a failed attempt; the password never does.
func (m *Model) Start() tea.Cmd {
	m.busy = false
	m.fb.password = ""
	m.form = buildForm(m.fb).
		WithWidth(m.formWidth()).
		WithShowHelp(true)
	return m.form.Init()
}

// SetError shows msg inline under the form. An empty msg clears it.
func (m *Model) SetError(msg string) {
	m.err = msg
}

// Busy reports whether a submitted attempt is still outstanding.
func (m Model) Busy() bool {
	return m.busy
}

// Update handles messages for the login form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil || m.busy {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.busy = true
		m.err = ""
		creds := m.fb.credentials()
		return m, func() tea.Msg { return SubmitMsg{Credentials: creds} }
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the form, a progress line while signing in, and the last
// error.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render("Sign in")}
	switch {
	case m.busy:
		parts = append(parts, theme.HelpStyle.Render("Signing in as "+m.fb.identifier+"..."))
	case m.form != nil:
		parts = append(parts, m.form.View())
	}
	if m.err != "" {
		parts = append(parts, theme.ErrorStyle.Render(m.err))
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth())
	}
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 80)
}

func buildForm(fb *formBindings) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email or username").
				Value(&fb.identifier).
				Validate(validateRequired("Email or username")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&fb.password).
				Validate(validateRequired("Password")),
			huh.NewConfirm().
				Title("Remember me on this device?").
				Value(&fb.remember),
		),
	)
}

// Prompt runs the form standalone on the terminal and returns the entered
// credentials. identifier pre-fills the first field.
func Prompt(ctx context.Context, identifier string) (model.Credentials, error) {
	fb := &formBindings{identifier: identifier, remember: true}
	if err := buildForm(fb).RunWithContext(ctx); err != nil {
		return model.Credentials{}, fmt.Errorf("login prompt: %w", err)
	}
	return fb.credentials(), nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
