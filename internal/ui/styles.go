package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. Single lime accent with gray support colors.
const (
	ColorLime     = "154" // Primary accent - bright lime green
	ColorWhite    = "255" // Headers, important text
	ColorGray     = "245" // Secondary text, labels
	ColorDarkGray = "238" // Separators, dim text
	ColorRed      = "196" // Errors
	ColorYellow   = "220" // Warnings
)

// Styles holds the text styles used by the CLI writer.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Value:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWhite)),
	}
}

// NoColorStyles returns unstyled components for plain output.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Value:   lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
