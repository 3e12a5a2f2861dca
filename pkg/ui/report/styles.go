package report

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for operator reports.
type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	section    lipgloss.Style
	border     lipgloss.Style
	cell       lipgloss.Style
	column     lipgloss.Style
	ok         lipgloss.Style
	bad        lipgloss.Style
	hint       lipgloss.Style
}

// defaultTheme keeps the retro terminal palette.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")),
		section: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")),
		border: lipgloss.NewStyle().
			Foreground(lipgloss.Color("130")),
		cell: lipgloss.NewStyle().
			Padding(0, 1),
		column: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("229")),
		ok: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		bad: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
	}
}
