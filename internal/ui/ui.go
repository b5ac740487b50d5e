// Package ui renders sync reports for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/mschirtzinger/tasksync/internal/sync"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// TerminalWidth returns the width of w, defaulting to 80 when it is not a
// terminal or the size cannot be detected.
func TerminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}

// Printer writes styled output. Colors are dropped when the destination is
// not a terminal or NO_COLOR is set.
type Printer struct {
	w     io.Writer
	width int

	title   lipgloss.Style
	header  lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	good    lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	section lipgloss.Style
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	if !IsTerminal(w) || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}

	width := TerminalWidth(w)
	if width > 100 {
		width = 100 // Maximum width for readability
	}

	return &Printer{
		w:       w,
		width:   width,
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		header:  r.NewStyle().Bold(true),
		label:   r.NewStyle().Foreground(lipgloss.Color("170")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("241")),
		good:    r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		bad:     r.NewStyle().Foreground(lipgloss.Color("196")),
		section: r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

// Status renders a status report.
func (p *Printer) Status(report *sync.StatusReport) {
	var b strings.Builder

	b.WriteString(p.title.Render("Sync status"))
	b.WriteString(p.dim.Render("  server time " + formatTime(report.ServerTime)))
	b.WriteString("\n\n")

	b.WriteString(p.header.Render(fmt.Sprintf("%-10s %8s %19s", "SOURCE", "PUSHES", "LAST SYNC")))
	b.WriteString("\n")
	if len(report.SyncMetadata) == 0 {
		b.WriteString(p.dim.Render("no pushes yet"))
		b.WriteString("\n")
	}
	for _, c := range report.SyncMetadata {
		b.WriteString(p.label.Render(fmt.Sprintf("%-10s", c.Source)))
		b.WriteString(fmt.Sprintf(" %8d %19s\n", c.SyncCount, formatTime(c.LastSyncAt)))
	}

	b.WriteString("\n")
	b.WriteString(p.header.Render(fmt.Sprintf("%-10s %8s %10s %19s", "SOURCE", "TASKS", "COMPLETED", "LAST UPDATED")))
	b.WriteString("\n")
	if len(report.TaskCounts) == 0 {
		b.WriteString(p.dim.Render("no tasks stored"))
		b.WriteString("\n")
	}
	for _, tc := range report.TaskCounts {
		b.WriteString(p.label.Render(fmt.Sprintf("%-10s", tc.Source)))
		b.WriteString(fmt.Sprintf(" %8d %10d %19s\n", tc.Total, tc.Completed, formatTime(tc.LastUpdated)))
	}

	fmt.Fprintln(p.w, p.section.Width(p.width-2).Render(strings.TrimRight(b.String(), "\n")))
}

// PushResult renders the outcome of a push.
func (p *Printer) PushResult(source string, res *sync.PushResult) {
	fmt.Fprintf(p.w, "%s %s\n",
		p.good.Render(fmt.Sprintf("✓ %d synced", res.Synced)),
		p.dim.Render("from "+source))

	for _, c := range res.Conflicts {
		fmt.Fprintf(p.w, "  %s %s: %s\n", p.warn.Render("conflict"), c.TaskID, c.Reason)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(p.w, "  %s %s\n", p.bad.Render("error"), e.Error())
	}
}

// Cleared renders the outcome of a clear.
func (p *Printer) Cleared(res *sync.ClearResult) {
	fmt.Fprintln(p.w, p.warn.Render(fmt.Sprintf("Deleted %d tasks and %d cursors", res.DeletedTasks, res.DeletedCursors)))
}

// Errorf renders an error line.
func (p *Printer) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(p.w, p.bad.Render("Error: "+fmt.Sprintf(format, args...)))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
