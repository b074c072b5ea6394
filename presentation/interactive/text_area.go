package interactive

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
)

// TextArea is a one-line entry prompt used for room codes.
type TextArea struct {
	ta *textarea.Model
}

func NewTextArea(placeholder string) *TextArea {
	ta := textarea.New()
	ta.Placeholder = placeholder
	ta.ShowLineNumbers = false
	ta.SetWidth(40)
	ta.SetHeight(1)
	ta.Focus()
	return &TextArea{
		ta: &ta,
	}
}

func (m *TextArea) Value() string {
	return strings.TrimSpace(m.ta.Value())
}

func (m *TextArea) Init() tea.Cmd {
	return textarea.Blink
}

func (m *TextArea) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			return m, tea.Quit
		case "esc", "ctrl+c":
			m.ta.Reset()
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	*m.ta, cmd = m.ta.Update(msg)
	return m, cmd
}

func (m *TextArea) View() string {
	return m.ta.View()
}
