package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Logo is the ASCII art logo for Nova
const Logo = `
   ███╗   ██╗ ██████╗ ██╗   ██╗ █████╗
   ████╗  ██║██╔═══██╗██║   ██║██╔══██╗
   ██╔██╗ ██║██║   ██║██║   ██║███████║
   ██║╚██╗██║██║   ██║╚██╗ ██╔╝██╔══██║
   ██║ ╚████║╚██████╔╝ ╚████╔╝ ██║  ██║
   ╚═╝  ╚═══╝ ╚═════╝   ╚═══╝  ╚═╝  ╚═╝
`

// Tagline is the project tagline
const Tagline = "Keeps your guilds in sync"

var (
	logoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5865F2"))

	taglineStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#6B7280"))

	labelStyle = lipgloss.NewStyle().
			Width(11).
			Foreground(lipgloss.Color("#10B981"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#374151")).
			Padding(0, 1)
)

// Info is what the startup banner reports.
type Info struct {
	Version   string
	User      string
	GoVersion string
	OS        string
	Features  []string
}

// Render returns the styled startup banner.
func Render(info Info) string {
	rows := [][2]string{
		{"Version", "v" + strings.TrimPrefix(info.Version, "v")},
		{"User", info.User},
		{"Go", info.GoVersion},
		{"OS", info.OS},
		{"Features", strings.Join(info.Features, ", ")},
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		lines = append(lines, labelStyle.Render(r[0]+":")+r[1])
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		logoStyle.Render(Logo),
		taglineStyle.Render("   "+Tagline),
		"",
		boxStyle.Render(strings.Join(lines, "\n")),
	)
}

// Print writes the startup banner to w.
func Print(w io.Writer, info Info) {
	fmt.Fprintln(w, Render(info))
	fmt.Fprintln(w)
}

// PrintCompact prints a compact single-line banner
func PrintCompact(w io.Writer, version string) {
	fmt.Fprintf(w, "Nova v%s - %s\n", strings.TrimPrefix(version, "v"), Tagline)
}
