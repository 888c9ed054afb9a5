package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Colors - forest green dark theme
var (
	primaryColor   = lipgloss.Color("#4ade80") // Bright forest green
	secondaryColor = lipgloss.Color("#6b7b6b") // Gray-green
	errorColor     = lipgloss.Color("#ef4444") // Red
	warningColor   = lipgloss.Color("#eab308") // Amber
	accentColor    = lipgloss.Color("#2dd4bf") // Teal

	bgPrimary   = lipgloss.Color("#0f1410")
	bgSecondary = lipgloss.Color("#1a211a")
)

// Styles defines all the visual styles for the TUI
type Styles struct {
	// Conversation tabs
	Tab          lipgloss.Style
	TabActive    lipgloss.Style
	TabStreaming lipgloss.Style

	// Chat styles
	UserPrompt       lipgloss.Style
	UserMessage      lipgloss.Style
	AssistantMessage lipgloss.Style
	SystemMessage    lipgloss.Style
	Waiting          lipgloss.Style
	ErrorMessage     lipgloss.Style

	// Input styles
	InputPrompt    lipgloss.Style
	InputSeparator lipgloss.Style

	// Status and help bars
	StatusBar       lipgloss.Style
	StatusModel     lipgloss.Style
	StatusStreaming lipgloss.Style
	HelpBar         lipgloss.Style
	HelpKey         lipgloss.Style
	HelpDesc        lipgloss.Style
}

// DefaultStyles returns the default style configuration
func DefaultStyles() Styles {
	return Styles{
		Tab: lipgloss.NewStyle().
			Foreground(secondaryColor).
			Padding(0, 1),

		TabActive: lipgloss.NewStyle().
			Bold(true).
			Background(primaryColor).
			Foreground(bgPrimary).
			Padding(0, 1),

		TabStreaming: lipgloss.NewStyle().
			Foreground(warningColor).
			Padding(0, 1),

		UserPrompt: lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor),

		UserMessage: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e5e7eb")),

		AssistantMessage: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d1d5db")),

		SystemMessage: lipgloss.NewStyle().
			Italic(true).
			Foreground(secondaryColor),

		Waiting: lipgloss.NewStyle().
			Italic(true).
			Foreground(warningColor),

		ErrorMessage: lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor),

		InputPrompt: lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor),

		InputSeparator: lipgloss.NewStyle().
			Foreground(secondaryColor),

		StatusBar: lipgloss.NewStyle().
			Foreground(secondaryColor).
			Background(bgSecondary).
			Padding(0, 1),

		StatusModel: lipgloss.NewStyle().
			Foreground(primaryColor),

		StatusStreaming: lipgloss.NewStyle().
			Foreground(warningColor).
			Italic(true),

		HelpBar: lipgloss.NewStyle().
			Foreground(secondaryColor).
			Padding(0, 1),

		HelpKey: lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor),

		HelpDesc: lipgloss.NewStyle().
			Foreground(secondaryColor),
	}
}
