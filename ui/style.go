package ui

import (
	"github.com/charmbracelet/lipgloss"

	"booth-bridge/progress"
)

var (
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	FooterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	MutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// stageColors follows the terminal palette: green done, red failed,
// blue working.
var stageColors = map[progress.Stage]string{
	progress.StageIdle:       "8",
	progress.StageExtracting: "12",
	progress.StageCompleted:  "10",
	progress.StageError:      "9",
}

// Colorize applies the given ANSI palette color to the text.
func Colorize(text, color string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(text)
}

// Stage renders text in the color of an extraction stage.
func Stage(stage progress.Stage, text string) string {
	color, ok := stageColors[stage]
	if !ok {
		color = "7"
	}
	return Colorize(text, color)
}

// Installed renders a catalog installed flag.
func Installed(installed bool) string {
	if installed {
		return Colorize("installed", "10")
	}
	return Colorize("not installed", "11")
}

// ImportStatus renders an import history outcome.
func ImportStatus(status string) string {
	switch status {
	case "imported":
		return Colorize(status, "10")
	case "no_packages":
		return Colorize(status, "11")
	case "failed":
		return Colorize(status, "9")
	}
	return status
}

// Truncate shortens s to maxLen runes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) > maxLen && maxLen > 3 {
		return string(r[:maxLen-3]) + "..."
	}
	return s
}
