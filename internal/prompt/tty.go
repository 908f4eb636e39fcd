package prompt

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	markStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	answerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// TTY asks with a single-keystroke bubbletea prompt.
type TTY struct {
	in  io.Reader
	out io.Writer
}

// NewTTY creates a terminal Confirmer.
func NewTTY(in io.Reader, out io.Writer) *TTY {
	return &TTY{in: in, out: out}
}

// Confirm runs the prompt until the operator answers or cancels.
func (t *TTY) Confirm(ctx context.Context, question string, defaultYes bool) (bool, error) {
	program := tea.NewProgram(
		newConfirmModel(question, defaultYes),
		tea.WithContext(ctx),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
	)
	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}

	model := final.(confirmModel)
	if model.canceled {
		return false, ErrCanceled
	}
	return model.answer, nil
}

type confirmModel struct {
	question   string
	defaultYes bool
	answer     bool
	done       bool
	canceled   bool
}

func newConfirmModel(question string, defaultYes bool) confirmModel {
	return confirmModel{question: question, defaultYes: defaultYes}
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "y", "Y":
		m.answer, m.done = true, true
	case "n", "N":
		m.answer, m.done = false, true
	case "enter":
		m.answer, m.done = m.defaultYes, true
	case "ctrl+c", "esc":
		m.canceled, m.done = true, true
	default:
		return m, nil
	}
	return m, tea.Quit
}

func (m confirmModel) View() string {
	prefix := markStyle.Render("?") + " " + m.question + " "
	switch {
	case m.canceled:
		return prefix + hintStyle.Render("canceled") + "\n"
	case m.done:
		answer := "No"
		if m.answer {
			answer = "Yes"
		}
		return prefix + answerStyle.Render(answer) + "\n"
	default:
		return prefix + hintStyle.Render(hint(m.defaultYes)) + " "
	}
}
