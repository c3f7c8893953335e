package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// TextInputModel is a single-line text prompt with an optional default.
type TextInputModel struct {
	input        textinput.Model
	prompt       string
	defaultValue string
	value        string
	done         bool
	cancelled    bool
}

// NewTextInput creates a text prompt. An empty submission yields
// defaultValue.
func NewTextInput(prompt, defaultValue string) TextInputModel {
	ti := textinput.New()
	ti.Placeholder = defaultValue
	ti.Focus()
	ti.CharLimit = 120
	ti.Width = 50

	return TextInputModel{
		input:        ti,
		prompt:       prompt,
		defaultValue: defaultValue,
	}
}

func (m TextInputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m TextInputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.value = m.input.Value()
			if m.value == "" {
				m.value = m.defaultValue
			}
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m TextInputModel) View() string {
	if m.done || m.cancelled {
		return ""
	}

	return fmt.Sprintf(
		"%s\n\n%s\n\n%s",
		PromptStyle.Render(m.prompt),
		m.input.View(),
		HelpStyle.Render("enter: accept • esc: cancel"),
	)
}

// Value returns the submitted value.
func (m TextInputModel) Value() string { return m.value }

// Done reports whether the prompt was submitted.
func (m TextInputModel) Done() bool { return m.done }

// Cancelled reports whether the prompt was aborted.
func (m TextInputModel) Cancelled() bool { return m.cancelled }
