package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorError     = lipgloss.Color("#EF4444")
	ColorTextMuted = lipgloss.Color("#9CA3AF")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	StepStyle = lipgloss.NewStyle().
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)
)

// Step prints one pipeline step as "Step i/n: Name" followed by its summary
// or error.
func Step(w io.Writer, i, n int, name, summary string, err error) {
	fmt.Fprintf(w, "\n%s\n", StepStyle.Render(fmt.Sprintf("Step %d/%d: %s", i, n, name)))
	if err != nil {
		fmt.Fprintf(w, "  %s\n", ErrorStyle.Render("Error: "+err.Error()))
		return
	}
	fmt.Fprintf(w, "  %s\n", SuccessStyle.Render(summary))
}

// Status styles a release status for terminal output.
func Status(status string) string {
	switch status {
	case "ok":
		return SuccessStyle.Render(status)
	case "failed":
		return ErrorStyle.Render(status)
	default:
		return lipgloss.NewStyle().Foreground(ColorWarning).Render(status)
	}
}

// KeyValue prints an indented "key: value" line with a muted key.
func KeyValue(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "  %s %v\n", MutedStyle.Render(key+":"), value)
}
