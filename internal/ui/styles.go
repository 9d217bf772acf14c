// Package ui renders terminal output for the tally CLI.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accent = lipgloss.AdaptiveColor{Light: "#0550AE", Dark: "#79C0FF"}
	pass   = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#56D364"}
	warn   = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#E3B341"}
	fail   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	muted  = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
)

var (
	AccentStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	PassStyle   = lipgloss.NewStyle().Foreground(pass)
	WarnStyle   = lipgloss.NewStyle().Foreground(warn)
	FailStyle   = lipgloss.NewStyle().Foreground(fail).Bold(true)
	MutedStyle  = lipgloss.NewStyle().Foreground(muted)
)

func init() {
	if os.Getenv("NO_COLOR") != "" || !IsTerminal(os.Stdout) {
		DisableColor()
	}
}

// DisableColor switches lipgloss to plain ASCII output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// IsInteractive reports whether both stdin and stdout are terminals, i.e.
// whether prompting the user makes sense.
func IsInteractive() bool {
	return IsTerminal(os.Stdin) && IsTerminal(os.Stdout)
}

func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }

// Writer returns w, or stdout when w is nil.
func Writer(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
