package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrCancelled is returned when the user aborts a prompt.
var ErrCancelled = fmt.Errorf("cancelled")

// AskText prompts for a line of text, falling back to defaultValue on an
// empty submission.
func AskText(prompt, defaultValue string) (string, error) {
	p := tea.NewProgram(NewTextInput(prompt, defaultValue))

	final, err := p.Run()
	if err != nil {
		return "", err
	}

	m := final.(TextInputModel)
	if !m.Done() {
		return "", ErrCancelled
	}
	return m.Value(), nil
}

// AskConfirm prompts for a yes/no answer.
func AskConfirm(prompt string, defaultYes bool) (bool, error) {
	p := tea.NewProgram(NewConfirm(prompt, defaultYes))

	final, err := p.Run()
	if err != nil {
		return false, err
	}

	m := final.(ConfirmModel)
	if m.Cancelled() {
		return false, ErrCancelled
	}
	return m.Confirmed(), nil
}
