package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/g15-config/service"
)

// Palette shared by the table output and the monitor.
var (
	colorOK     = lipgloss.Color("#2ec27e")
	colorWarn   = lipgloss.Color("#e5a50a")
	colorError  = lipgloss.Color("#e01b24")
	colorAccent = lipgloss.Color("#3584e4")
	colorMuted  = lipgloss.Color("#77767b")
)

// Styles renders text, plain when the output is not a terminal.
type Styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	OK     lipgloss.Style
	Warn   lipgloss.Style
	Error  lipgloss.Style
	Muted  lipgloss.Style
	Active lipgloss.Style
	Box    lipgloss.Style
}

// NewStyles returns the colour styles, or no-op styles when plain is set.
func NewStyles(plain bool) Styles {
	if plain {
		s := lipgloss.NewStyle()
		return Styles{Title: s, Header: s, OK: s, Warn: s, Error: s, Muted: s, Active: s, Box: s}
	}
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Header: lipgloss.NewStyle().Bold(true),
		OK:     lipgloss.NewStyle().Bold(true).Foreground(colorOK),
		Warn:   lipgloss.NewStyle().Bold(true).Foreground(colorWarn),
		Error:  lipgloss.NewStyle().Bold(true).Foreground(colorError),
		Muted:  lipgloss.NewStyle().Foreground(colorMuted),
		Active: lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1),
	}
}

// ServiceState colours a service status summary.
func (s Styles) ServiceState(st service.Status) string {
	switch {
	case st.Nominal():
		return s.OK.Render(st.Summary())
	case st.State == service.StateStopped:
		return s.Error.Render(st.Summary())
	default:
		return s.Warn.Render(st.Summary())
	}
}
