package console

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SpinnerFrames contains the braille spinner animation frames.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerFPS = time.Second / 10

// Spinner animates a label on one terminal line until stopped.
type Spinner struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

// Spinner starts a spinner. Off a terminal it prints the label once instead.
func (c *Console) Spinner(label string) *Spinner {
	s := &Spinner{done: make(chan struct{})}
	if !c.tty {
		c.Println(label)
		close(s.done)
		return s
	}

	s.program = tea.NewProgram(
		newSpinnerModel(label, c.styles.Info),
		tea.WithInput(nil),
		tea.WithOutput(c.out),
		tea.WithoutSignalHandler(),
	)
	go func() {
		defer close(s.done)
		_, _ = s.program.Run()
	}()
	return s
}

// Stop halts the animation and clears its line. Safe to call more than once.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		if s.program != nil {
			s.program.Send(stopSpinnerMsg{})
		}
	})
	<-s.done
}

type stopSpinnerMsg struct{}

type spinnerModel struct {
	spin    spinner.Model
	label   string
	stopped bool
}

func newSpinnerModel(label string, style lipgloss.Style) spinnerModel {
	spin := spinner.New()
	spin.Spinner = spinner.Spinner{Frames: SpinnerFrames, FPS: spinnerFPS}
	spin.Style = style
	return spinnerModel{spin: spin, label: label}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopSpinnerMsg:
		m.stopped = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.stopped {
		return ""
	}
	return m.spin.View() + " " + m.label
}
