// Package tui renders the live quota dashboard for watch mode.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Dicklesworthstone/qwatch/internal/client"
	"github.com/Dicklesworthstone/qwatch/internal/quota"
)

// Event is a monitoring update delivered to the dashboard.
type Event any

// SnapshotEvent carries a fresh quota snapshot.
type SnapshotEvent struct{ Snapshot quota.Snapshot }

// ErrorEvent carries a surfaced fetch failure.
type ErrorEvent struct{ Err error }

// StatusEvent carries a poller state change.
type StatusEvent struct{ Status client.Status }

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4B5563"))
)

type model struct {
	events  <-chan Event
	refresh func()

	spin     spinner.Model
	bars     map[string]progress.Model
	snapshot *quota.Snapshot
	status   client.Status
	lastErr  error
	width    int
}

type eventMsg struct{ ev Event }

func waitForEvent(events <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return tea.Quit()
		}
		return eventMsg{ev: ev}
	}
}

func newModel(events <-chan Event, refresh func()) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	return model{
		events:  events,
		refresh: refresh,
		spin:    s,
		bars:    make(map[string]progress.Model),
		width:   80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.refresh != nil {
				m.refresh()
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case eventMsg:
		switch ev := msg.ev.(type) {
		case SnapshotEvent:
			snap := ev.Snapshot
			m.snapshot = &snap
			m.lastErr = nil
		case ErrorEvent:
			m.lastErr = ev.Err
		case StatusEvent:
			m.status = ev.Status
		}
		return m, waitForEvent(m.events)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	title := "qwatch"
	if m.snapshot != nil && m.snapshot.Plan != "" {
		title += "  " + dimStyle.Render(m.snapshot.Plan)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	if m.snapshot == nil {
		b.WriteString(fmt.Sprintf("%s waiting for first fetch...\n", m.spin.View()))
	} else {
		m.renderQuotas(&b)
	}

	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("r refresh  q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m model) renderQuotas(b *strings.Builder) {
	now := time.Now()
	barWidth := m.width - 46
	if barWidth < 10 {
		barWidth = 10
	}
	if barWidth > 40 {
		barWidth = 40
	}
	for _, q := range m.snapshot.Models {
		bar, ok := m.bars[q.ID]
		if !ok || bar.Width != barWidth {
			bar = progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth))
			m.bars[q.ID] = bar
		}
		label := truncate(q.Label, 22)
		line := fmt.Sprintf("  %-22s %s  %s", label, bar.ViewAs(q.RemainingFraction), q.RemainingDisplay)
		if q.ResetsEventually() {
			line += dimStyle.Render(fmt.Sprintf("  resets in %s", q.ResetAt.Sub(now).Round(time.Minute)))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  updated " + m.snapshot.TakenAt.Local().Format("15:04:05")))
	b.WriteString("\n")
}

func (m model) statusLine() string {
	if m.lastErr != nil {
		return errStyle.Render(truncate("error: "+m.lastErr.Error(), m.width-2))
	}
	switch m.status.State {
	case client.StateRetrying:
		return errStyle.Render(m.status.Message)
	case client.StateFirstFetch:
		return dimStyle.Render("connecting...")
	default:
		return dimStyle.Render("polling")
	}
}

// truncate shortens s to width display cells, ANSI-aware.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return ansi.Truncate(s, width, "…")
}

// Run drives the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, events <-chan Event, refresh func()) error {
	p := tea.NewProgram(newModel(events, refresh), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
