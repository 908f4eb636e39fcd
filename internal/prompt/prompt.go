// Package prompt asks the operator yes/no questions.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrCanceled is returned when the operator aborts a prompt.
var ErrCanceled = errors.New("prompt canceled")

// Confirmer answers a yes/no question. defaultYes is the answer taken on a
// bare enter and in non-interactive runs.
type Confirmer interface {
	Confirm(ctx context.Context, question string, defaultYes bool) (bool, error)
}

// New picks a Confirmer for the environment: defaults only when assumeYes,
// a bubbletea prompt when in is a terminal, a line reader otherwise.
func New(in *os.File, out io.Writer, assumeYes bool) Confirmer {
	switch {
	case assumeYes:
		return Defaults{}
	case term.IsTerminal(int(in.Fd())):
		return NewTTY(in, out)
	default:
		return NewLine(in, out)
	}
}

// Defaults answers every question with its default.
type Defaults struct{}

// Confirm returns defaultYes.
func (Defaults) Confirm(_ context.Context, _ string, defaultYes bool) (bool, error) {
	return defaultYes, nil
}

// Line reads answers line by line, for piped or redirected stdin.
type Line struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewLine creates a line-based Confirmer.
func NewLine(in io.Reader, out io.Writer) *Line {
	return &Line{reader: bufio.NewReader(in), out: out}
}

// Confirm prints the question and parses y/yes/n/no. An empty line or end of
// input selects the default; anything else asks again.
func (l *Line) Confirm(ctx context.Context, question string, defaultYes bool) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(l.out, "? %s %s ", question, hint(defaultYes))

		input, err := l.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		answer, ok := parseAnswer(input, defaultYes)
		if ok {
			return answer, nil
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(l.out)
			return defaultYes, nil
		}
		fmt.Fprintln(l.out, "Please answer y or n.")
	}
}

func parseAnswer(input string, defaultYes bool) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return defaultYes, true
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	default:
		return false, false
	}
}

func hint(defaultYes bool) string {
	if defaultYes {
		return "(Y/n)"
	}
	return "(y/N)"
}

// Scripted replays fixed answers in order and records each question. When
// the answers run out it returns the question's default.
type Scripted struct {
	mu        sync.Mutex
	answers   []bool
	Questions []string
}

// NewScripted creates a Scripted confirmer.
func NewScripted(answers ...bool) *Scripted {
	return &Scripted{answers: answers}
}

// Confirm returns the next scripted answer.
func (s *Scripted) Confirm(_ context.Context, question string, defaultYes bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Questions = append(s.Questions, question)
	if len(s.answers) == 0 {
		return defaultYes, nil
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}
