// Package ui is the presentation port: severity-tagged, single-line
// console output kept out of the control-flow logic so the
// orchestrator is testable without a terminal.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	toolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	faintStyle = lipgloss.NewStyle().Faint(true)
)

// Printer writes user-facing output to a single writer.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{out: w}
}

// Stream writes raw assistant text with no decoration or newline.
func (p *Printer) Stream(text string) {
	fmt.Fprint(p.out, text)
}

// Println writes a plain line.
func (p *Printer) Println(args ...any) {
	fmt.Fprintln(p.out, args...)
}

// Infof writes an informational line.
func (p *Printer) Infof(format string, args ...any) {
	fmt.Fprintln(p.out, faintStyle.Render(fmt.Sprintf(format, args...)))
}

// Warnf writes a low-severity warning line.
func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintln(p.out, warnStyle.Render("warning: "+fmt.Sprintf(format, args...)))
}

// Errorf writes a high-severity error line.
func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintln(p.out, errorStyle.Render("error: "+fmt.Sprintf(format, args...)))
}

// ToolCallf writes a one-line summary of a tool call or result.
func (p *Printer) ToolCallf(format string, args ...any) {
	fmt.Fprintln(p.out, toolStyle.Render(fmt.Sprintf(format, args...)))
}
