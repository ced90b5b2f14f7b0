package render

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for table and transcript output.
var (
	// HeaderStyle for table header cells.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// UserStyle labels user messages.
	UserStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor)

	// AssistantStyle labels assistant messages.
	AssistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(successColor)

	// ToolStyle for tool calls and results.
	ToolStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// MutedStyle for reasoning and status lines.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	// ErrorStyle for failures.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// OutcomeStyle returns a style based on a run outcome string.
func OutcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case "success":
		return AssistantStyle
	case "aborted", "noop":
		return ToolStyle
	case "error":
		return ErrorStyle
	default:
		return MutedStyle
	}
}
