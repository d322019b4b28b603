package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/qwatch/internal/quota"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308"))
	exhaustedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// colorEnabled resolves the configured color mode against the terminal.
func colorEnabled() bool {
	switch cfg.Color {
	case "always":
		return true
	case "never":
		return false
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

// terminalWidth returns the usable output width, defaulting to 80.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// emit writes v in the selected machine format. Returns false when the
// selected mode is the human table, in which case the caller renders.
func emit(v any) (handled bool, err error) {
	switch outputMode {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return true, enc.Encode(v)
	default:
		return false, nil
	}
}

// renderSnapshot prints the human-readable quota table.
func renderSnapshot(snap *quota.Snapshot) string {
	color := colorEnabled()
	style := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	title := "Usage Quotas"
	if snap.Plan != "" {
		title += "  (" + snap.Plan + ")"
	}
	b.WriteString(style(headerStyle, title))
	b.WriteString("\n")
	b.WriteString(style(dimStyle, "as of "+snap.TakenAt.Local().Format("15:04:05")))
	b.WriteString("\n\n")

	labelWidth := 0
	for _, m := range snap.Models {
		if w := runewidth.StringWidth(m.Label); w > labelWidth {
			labelWidth = w
		}
	}

	now := time.Now()
	for _, m := range snap.Models {
		b.WriteString("  ")
		b.WriteString(runewidth.FillRight(m.Label, labelWidth+2))
		b.WriteString(style(quotaStyle(m), runewidth.FillRight(m.RemainingDisplay, 12)))
		if m.ResetsEventually() {
			b.WriteString(style(dimStyle, "resets in "+formatCountdown(m.ResetAt.Sub(now))))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func quotaStyle(m quota.ModelQuota) lipgloss.Style {
	switch {
	case m.IsExhausted:
		return exhaustedStyle
	case m.Percentage <= 20:
		return warnStyle
	default:
		return okStyle
	}
}

// formatCountdown renders a duration as a compact h/m countdown.
func formatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h >= 24:
		return fmt.Sprintf("%dd%dh", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// renderRequirements prints platform requirement text wrapped to the
// terminal, for terminal discovery failures.
func renderRequirements(reqs []string) string {
	width := terminalWidth()
	if width > 100 {
		width = 100
	}
	var b strings.Builder
	for _, r := range reqs {
		b.WriteString(wordwrap.String("  - "+r, width))
		b.WriteString("\n")
	}
	return b.String()
}
