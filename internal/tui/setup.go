// ABOUTME: Interactive TUI wizard for connecting agora to a hosted realtime database.
// ABOUTME: 3-step bubbletea model collecting database URL, auth secret, and display name.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Step represents the current wizard step.
type Step int

const (
	StepDatabaseURL Step = iota
	StepSecret
	StepName
	StepValidating
	StepDone
	StepFailed
)

// validationResultMsg carries the result of an async validation attempt.
type validationResultMsg struct {
	err error
}

// ValidateFn is the function signature for connection validation.
type ValidateFn func(ctx context.Context, databaseURL, secret string) error

// cancelHolder shares a cancel function across bubbletea model copies.
// This MUST be stored as a pointer field on SetupModel so that value-receiver
// methods (required by tea.Model) can store the cancel func and have it
// visible to all copies of the model.
type cancelHolder struct {
	cancel context.CancelFunc
}

// SetupModel is the bubbletea model for the setup wizard.
type SetupModel struct {
	step          Step
	inputs        [3]textinput.Model
	spinner       spinner.Model
	validateFn    ValidateFn
	cancelCtx     *cancelHolder
	validationErr error
	quitting      bool
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	brandStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// NewSetupModel creates a new setup wizard model, pre-filling with existing config values.
func NewSetupModel(databaseURL, secret, name string) SetupModel {
	urlInput := textinput.New()
	urlInput.Placeholder = "https://your-project-default-rtdb.firebaseio.com"
	urlInput.Focus()
	urlInput.Width = 60
	if databaseURL != "" {
		urlInput.SetValue(databaseURL)
	}

	secretInput := textinput.New()
	secretInput.Placeholder = "database secret or ID token"
	secretInput.EchoMode = textinput.EchoPassword
	secretInput.Width = 60
	if secret != "" {
		secretInput.SetValue(secret)
	}

	nameInput := textinput.New()
	nameInput.Placeholder = "anonymous"
	nameInput.Width = 40
	if name != "" {
		nameInput.SetValue(name)
	}

	s := spinner.New()
	s.Spinner = spinner.Dot

	return SetupModel{
		step:       StepDatabaseURL,
		inputs:     [3]textinput.Model{urlInput, secretInput, nameInput},
		spinner:    s,
		validateFn: ValidateConnection,
		cancelCtx:  &cancelHolder{},
	}
}

// Init implements tea.Model.
func (m SetupModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m SetupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEscape:
			m.quitting = true
			if m.cancelCtx.cancel != nil {
				m.cancelCtx.cancel()
			}
			return m, tea.Quit
		}

		switch m.step {
		case StepDatabaseURL, StepSecret, StepName:
			return m.updateInput(msg)
		case StepFailed:
			return m.updateFailed(msg)
		}

	case validationResultMsg:
		m.cancelCtx.cancel = nil
		if msg.err == nil {
			m.step = StepDone
			return m, tea.Quit
		}
		m.validationErr = msg.err
		m.step = StepFailed
		return m, nil

	case spinner.TickMsg:
		if m.step == StepValidating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m SetupModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEnter {
		idx := int(m.step)

		// The URL is required; normalise trailing slashes and a pasted .json suffix.
		if m.step == StepDatabaseURL {
			val := strings.TrimSpace(m.inputs[0].Value())
			if val == "" {
				return m, nil
			}
			val = strings.TrimSuffix(strings.TrimRight(val, "/"), ".json")
			m.inputs[0].SetValue(strings.TrimRight(val, "/"))
		}

		m.inputs[idx].Blur()

		switch m.step {
		case StepDatabaseURL:
			m.step = StepSecret
			m.inputs[1].Focus()
			return m, textinput.Blink
		case StepSecret:
			m.step = StepName
			m.inputs[2].Focus()
			return m, textinput.Blink
		case StepName:
			m.step = StepValidating
			return m, tea.Batch(m.startValidation(), m.spinner.Tick)
		}
	}

	// Forward to the active input
	idx := int(m.step)
	var cmd tea.Cmd
	m.inputs[idx], cmd = m.inputs[idx].Update(msg)
	return m, cmd
}

func (m SetupModel) updateFailed(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyRunes {
		switch msg.Runes[0] {
		case 'r':
			m.step = StepValidating
			m.validationErr = nil
			return m, tea.Batch(m.startValidation(), m.spinner.Tick)
		case 's':
			m.step = StepDone
			return m, tea.Quit
		case 'q':
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m SetupModel) startValidation() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelCtx.cancel = cancel
	databaseURL := m.inputs[0].Value()
	secret := m.inputs[1].Value()
	fn := m.validateFn
	return func() tea.Msg {
		return validationResultMsg{err: fn(ctx, databaseURL, secret)}
	}
}

// View implements tea.Model.
func (m SetupModel) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(brandStyle.Render("   AGORA"))
	b.WriteString(titleStyle.Render(" - Setup"))
	b.WriteString("\n\n")
	b.WriteString("Connect to your community's realtime database.\n\n")

	switch m.step {
	case StepDatabaseURL:
		b.WriteString(stepStyle.Render("Step 1 of 3: Database URL"))
		b.WriteString("\n")
		b.WriteString(m.inputs[0].View())
		b.WriteString("\n")

	case StepSecret:
		b.WriteString(fmt.Sprintf("  Database URL: %s\n\n", m.inputs[0].Value()))
		b.WriteString(stepStyle.Render("Step 2 of 3: Auth Secret"))
		b.WriteString("\n")
		b.WriteString(promptStyle.Render("(press Enter to skip for public databases)"))
		b.WriteString("\n")
		b.WriteString(m.inputs[1].View())
		b.WriteString("\n")

	case StepName:
		b.WriteString(fmt.Sprintf("  Database URL: %s\n", m.inputs[0].Value()))
		b.WriteString(fmt.Sprintf("  Auth Secret: %s\n\n", maskSecret(m.inputs[1].Value())))
		b.WriteString(stepStyle.Render("Step 3 of 3: Display Name"))
		b.WriteString("\n")
		b.WriteString(promptStyle.Render("(shown on your comments; Enter for anonymous)"))
		b.WriteString("\n")
		b.WriteString(m.inputs[2].View())
		b.WriteString("\n")

	case StepValidating:
		b.WriteString(fmt.Sprintf("  Database URL: %s\n", m.inputs[0].Value()))
		b.WriteString(fmt.Sprintf("  Auth Secret: %s\n\n", maskSecret(m.inputs[1].Value())))
		b.WriteString(m.spinner.View())
		b.WriteString(" Validating connection...")
		b.WriteString("\n")

	case StepDone:
		b.WriteString(successStyle.Render("✓ Connected!"))
		b.WriteString("\n")

	case StepFailed:
		errMsg := "unknown error"
		if m.validationErr != nil {
			errMsg = m.validationErr.Error()
		}
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ Validation failed: %s", errMsg)))
		b.WriteString("\n\n")
		b.WriteString(promptStyle.Render("[r]etry  [s]ave anyway  [q]uit"))
		b.WriteString("\n")
	}

	return b.String()
}

func maskSecret(s string) string {
	if s == "" {
		return "(none)"
	}
	return strings.Repeat("*", len(s))
}

// Result returns the entered values.
func (m SetupModel) Result() (databaseURL, secret, name string) {
	return m.inputs[0].Value(), m.inputs[1].Value(), strings.TrimSpace(m.inputs[2].Value())
}

// ShouldSave returns true if the wizard completed (via validation success or
// "save anyway") and the user did not cancel with Ctrl+C, Escape, or 'q'.
func (m SetupModel) ShouldSave() bool {
	return m.step == StepDone && !m.quitting
}
