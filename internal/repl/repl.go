// Package repl collects user input with line editing and an explicit,
// session-scoped command history.
package repl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
)

// ErrInterrupted is returned when the user aborts the prompt.
var ErrInterrupted = errors.New("input interrupted")

// History owns the command-history buffer and its on-disk copy. It is
// constructed at session start and torn down with the Input that owns
// it, never shared process-wide.
type History struct {
	path string
}

// NewHistory creates a history persisted at path. An empty path keeps
// history in memory only.
func NewHistory(path string) *History {
	return &History{path: path}
}

func (h *History) load(line *liner.State) {
	if h.path == "" {
		return
	}
	f, err := os.Open(h.path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.ReadHistory(f)
}

func (h *History) save(line *liner.State) {
	if h.path == "" {
		return
	}
	f, err := os.Create(h.path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}

// Input reads user turns from the terminal.
type Input struct {
	line    *liner.State
	history *History
	prompt  string
}

// NewInput creates a liner-backed input with the given history.
func NewInput(history *History) *Input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	if history != nil {
		history.load(line)
	}
	return &Input{
		line:    line,
		history: history,
		prompt:  "> ",
	}
}

// ReadLine blocks for one line of input. io.EOF signals end of input,
// ErrInterrupted a Ctrl-C abort.
func (i *Input) ReadLine() (string, error) {
	text, err := i.line.Prompt(i.prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", ErrInterrupted
		}
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", fmt.Errorf("read input: %w", err)
	}
	if strings.TrimSpace(text) != "" {
		i.line.AppendHistory(text)
	}
	return text, nil
}

// Help returns the command summary shown for the help command.
func (i *Input) Help() string {
	return strings.TrimSpace(`
Commands:
  exit, quit   end the session
  summary      show usage and cost totals
  /clear       snapshot and reset the conversation
  /resume      reload the latest saved conversation
  !!           repeat the previous input
  /help        show this help
Anything else is sent to the model.`)
}

// Close persists history and restores the terminal.
func (i *Input) Close() error {
	if i.history != nil {
		i.history.save(i.line)
	}
	return i.line.Close()
}
