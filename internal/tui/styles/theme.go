package styles

import (
	"github.com/allbin/go-updi/internal/tui/colors"
	"github.com/charmbracelet/lipgloss"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Mauve).
			Background(colors.Surface0).
			Padding(0, 1)

	// Session banner printed before the terminal starts
	BannerStyle = lipgloss.NewStyle().
			Foreground(colors.Teal)

	BannerKeyStyle = lipgloss.NewStyle().
			Foreground(colors.Yellow).
			Bold(true)

	// Port tables
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Text).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(colors.Subtext0)

	CellStyle = lipgloss.NewStyle().
			PaddingRight(2)

	HighlightStyle = lipgloss.NewStyle().
			Foreground(colors.Text).
			Background(colors.Surface1)

	DimStyle = lipgloss.NewStyle().
			Foreground(colors.Overlay0)

	// Key/value output of the info command
	LabelStyle = lipgloss.NewStyle().
			Foreground(colors.Blue).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(colors.Text)

	SuccessStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Green)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Red)
)
