package detect

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/codifryed/coolercontrol-sub002/pkg/modload"
)

// ColorMode selects when the text report is coloured.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode accepts auto, always or never.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(s)); m {
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	}
	return "", fmt.Errorf("detect: unknown color mode %q", s)
}

type styles struct {
	heading lipgloss.Style
	note    lipgloss.Style
	good    lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
}

// newStyles binds styles to w. In auto mode colour is dropped when w is not
// a terminal.
func newStyles(w io.Writer, mode ColorMode) styles {
	r := lipgloss.NewRenderer(w)
	switch mode {
	case ColorAlways:
		r.SetColorProfile(termenv.ANSI256)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		heading: r.NewStyle().Bold(true),
		note:    r.NewStyle().Faint(true),
		good:    r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("3")),
		bad:     r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

func (s styles) status(st modload.Status) string {
	text := st.String()
	switch st.Kind {
	case modload.KindLoaded, modload.KindAlreadyLoaded:
		return s.good.Render(text)
	case modload.KindBlacklisted, modload.KindSkippedConflict, modload.KindSkippedNoModprobe:
		return s.warn.Render(text)
	case modload.KindFailed:
		return s.bad.Render(text)
	default:
		return text
	}
}

// OutputResults writes a human-readable report of results to w, coloured
// only when w is a terminal.
func OutputResults(w io.Writer, results DetectionResults) error {
	return WriteText(w, results, ColorAuto)
}

// WriteText writes the human-readable report with an explicit colour mode.
func WriteText(w io.Writer, results DetectionResults, mode ColorMode) error {
	st := newStyles(w, mode)
	var b strings.Builder

	if len(results.DetectedChips) == 0 {
		b.WriteString("No Super-I/O chips detected.\n")
		if results.Environment.RunningInContainer {
			b.WriteString(st.note.Render("  (running inside a container - hardware probing may be limited)") + "\n")
		}
		if !results.Environment.DevPortAccessible {
			b.WriteString(st.note.Render("  (/dev/port is not available)") + "\n")
		}
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString(st.heading.Render("Detected Super-I/O chips:") + "\n")
	header := fmt.Sprintf("  %-40s %-14s %-8s %-10s %s", "Chip", "Driver", "Address", "Base Addr", "Status")
	b.WriteString(st.heading.Render(header) + "\n")
	b.WriteString("  " + strings.Repeat("-", 90) + "\n")
	for _, c := range results.DetectedChips {
		fmt.Fprintf(&b, "  %-40s %-14s %-8s %-10s %s\n",
			c.Name, c.Driver, c.Address, c.BaseAddress, st.status(c.ModuleStatus))
	}

	if len(results.Skipped) > 0 {
		b.WriteString("\n" + st.heading.Render("Skipped drivers:") + "\n")
		for _, s := range results.Skipped {
			fmt.Fprintf(&b, "  %s - %s (preferred: %s)\n", s.Driver, s.Reason, s.Preferred)
		}
	}

	if len(results.Blacklisted) > 0 {
		fmt.Fprintf(&b, "\n%s %s\n", st.heading.Render("Blacklisted drivers:"), strings.Join(results.Blacklisted, ", "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
