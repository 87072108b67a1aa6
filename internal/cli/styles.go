// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// PrimaryColor is the main theme color (spicy red).
	PrimaryColor = lipgloss.Color("#FF6B6B")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4") // Teal
	// WarningColor indicates warnings or caution messages.
	WarningColor = lipgloss.Color("#FFE66D") // Yellow
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B") // Red
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666") // Gray

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(lipgloss.Color("#333"))
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	SpiceIcon   = "🌶️"
	RobotIcon   = "🤖"
	RuleIcon    = "📏"
	AgentIcon   = "🙋"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatTitle formats a title with the spice icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(SpiceIcon + " " + title)
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.
		UnsetMargins().
		Render(title)

	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, boxTitle, content))
}

// FormatConfidence renders a score as a percentage colored against threshold.
func FormatConfidence(score, threshold float64) string {
	text := fmt.Sprintf("%3.0f%%", score*100)
	switch {
	case score >= threshold+0.25:
		return SuccessStyle.Render(text)
	case score >= threshold:
		return WarningStyle.Render(text)
	default:
		return ErrorStyle.Render(text)
	}
}

// FormatSource labels a suggestion source with its icon.
func FormatSource(source string) string {
	switch source {
	case "model":
		return RobotIcon + " model"
	case "rule":
		return RuleIcon + " rule"
	default:
		return source
	}
}

// RenderStages draws the rollout ladder with the current stage highlighted.
func RenderStages(stages []int, current int) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		label := fmt.Sprintf("%d%%", s)
		if s == current {
			parts[i] = BoldStyle.Foreground(PrimaryColor).Render("[" + label + "]")
		} else {
			parts[i] = SubtleStyle.Render(label)
		}
	}
	return strings.Join(parts, SubtleStyle.Render(" → "))
}

// RenderTable renders a header row and rows as aligned columns.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range headers {
			if i < len(row) {
				widths[i] = max(widths[i], lipgloss.Width(row[i]))
			}
		}
	}

	var b strings.Builder
	header := make([]string, len(headers))
	for i, h := range headers {
		header[i] = lipgloss.NewStyle().Width(widths[i] + 2).Render(h)
	}
	b.WriteString(TableHeaderStyle.Render(strings.Join(header, "")))
	b.WriteString("\n")

	for _, row := range rows {
		cells := make([]string, len(headers))
		for i := range headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = lipgloss.NewStyle().Width(widths[i] + 2).Render(cell)
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, ""), " "))
		b.WriteString("\n")
	}
	return b.String()
}
