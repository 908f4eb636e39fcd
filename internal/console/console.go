// Package console renders operator-facing output: numbered step lines,
// outcome lines, a spinner for long local work and an upload progress bar.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// Palette colors, ANSI 256.
const (
	colorStart   = lipgloss.Color("5")
	colorInfo    = lipgloss.Color("4")
	colorSuccess = lipgloss.Color("2")
	colorWarning = lipgloss.Color("3")
	colorError   = lipgloss.Color("1")
)

// Styles holds the lipgloss styles for each kind of line.
type Styles struct {
	Start     lipgloss.Style
	Info      lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Underline lipgloss.Style
}

// NewStyles builds the palette for a renderer. With noColor every style is plain.
func NewStyles(renderer *lipgloss.Renderer, noColor bool) Styles {
	if noColor {
		plain := renderer.NewStyle()
		return Styles{plain, plain, plain, plain, plain, plain}
	}
	return Styles{
		Start:     renderer.NewStyle().Foreground(colorStart),
		Info:      renderer.NewStyle().Foreground(colorInfo),
		Success:   renderer.NewStyle().Foreground(colorSuccess),
		Warning:   renderer.NewStyle().Foreground(colorWarning),
		Error:     renderer.NewStyle().Foreground(colorError),
		Underline: renderer.NewStyle().Foreground(colorInfo).Underline(true).Bold(true),
	}
}

// Options configures a Console.
type Options struct {
	// NoColor disables ANSI styling.
	NoColor bool
}

// Console writes styled lines to one writer. It is safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	styles Styles
	tty    bool
}

// New creates a Console writing to out.
func New(out io.Writer, opts Options) *Console {
	return &Console{
		out:    out,
		styles: NewStyles(lipgloss.NewRenderer(out), opts.NoColor),
		tty:    IsTerminal(out),
	}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w any) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// Interactive reports whether the console output is a terminal.
func (c *Console) Interactive() bool {
	return c.tty
}

func (c *Console) println(style lipgloss.Style, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, style.Render(text))
}

// Start prints a run banner line.
func (c *Console) Start(format string, args ...any) {
	c.println(c.styles.Start, fmt.Sprintf(format, args...))
}

// Step prints a numbered pipeline step header, e.g. "(3) connect web1".
func (c *Console) Step(n int, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "(%d) %s\n", n, fmt.Sprintf(format, args...))
}

// Success prints an indented success line under the current step.
func (c *Console) Success(format string, args ...any) {
	c.println(c.styles.Success, "  "+fmt.Sprintf(format, args...))
}

// SubSuccess prints a numbered success line for a sub-step, e.g. "  1) backup".
func (c *Console) SubSuccess(n int, format string, args ...any) {
	c.println(c.styles.Success, fmt.Sprintf("  %d) %s", n, fmt.Sprintf(format, args...)))
}

// Info prints an informational line.
func (c *Console) Info(format string, args ...any) {
	c.println(c.styles.Info, fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (c *Console) Warn(format string, args ...any) {
	c.println(c.styles.Warning, fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (c *Console) Error(format string, args ...any) {
	c.println(c.styles.Error, fmt.Sprintf(format, args...))
}

// Println prints text unstyled.
func (c *Console) Println(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

// Emph renders s for inline emphasis (underlined, bold).
func (c *Console) Emph(s string) string {
	return c.styles.Underline.Render(s)
}

// Size formats a byte count for humans.
func Size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
