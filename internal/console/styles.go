package console

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#7C3AED")
	colorOK     = lipgloss.Color("#10B981")
	colorWarn   = lipgloss.Color("#F59E0B")
	colorError  = lipgloss.Color("#EF4444")
	colorMuted  = lipgloss.Color("#6B7280")
	colorText   = lipgloss.Color("#E5E7EB")

	headerStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Padding(0, 1)

	userLabel = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	agentLabel = lipgloss.NewStyle().
			Foreground(colorOK).
			Bold(true)

	userText = lipgloss.NewStyle().
			Foreground(colorText).
			PaddingLeft(1)

	cursorStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	toolLine = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true).
			PaddingLeft(2)

	toolName = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	toolDetail = lipgloss.NewStyle().
			Foreground(colorMuted).
			PaddingLeft(4)

	errorText = lipgloss.NewStyle().
			Foreground(colorError)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	bannerWarn = lipgloss.NewStyle().
			Foreground(colorWarn).
			Bold(true).
			Padding(0, 1)

	bannerError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true).
			Padding(0, 1)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(2, 0).
			Align(lipgloss.Center)
)
