// Package tui follows a report run in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dossier/internal/tracking"
)

const defaultInterval = 2 * time.Second

var (
	docStyle    = lipgloss.NewStyle().Margin(1, 2)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	footerStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true, false, false, false).Padding(0, 1)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	statusColors = map[tracking.Status]lipgloss.Color{
		tracking.StatusInitialize: "39",
		tracking.StatusGenerating: "33",
		tracking.StatusPolishing:  "141",
		tracking.StatusSaving:     "37",
		tracking.StatusUploading:  "37",
		tracking.StatusRetry:      "214",
		tracking.StatusCompleted:  "42",
		tracking.StatusError:      "196",
	}
)

// Source is the read side of the tracking sink.
type Source interface {
	Statuses(ctx context.Context, requestID string) ([]tracking.StatusEntry, error)
	Metrics(ctx context.Context, requestID string) ([]tracking.MetricRow, error)
}

type pollMsg struct {
	entries []tracking.StatusEntry
	totals  tracking.Totals
	err     error
}

type tickMsg struct{}

// model represents the state of the watcher.
type model struct {
	source    Source
	requestID string
	interval  time.Duration

	entries []tracking.StatusEntry
	totals  tracking.Totals
	err     error

	width    int
	height   int
	done     bool
	quitting bool
}

func newModel(source Source, requestID string, interval time.Duration) model {
	if interval <= 0 {
		interval = defaultInterval
	}
	return model{source: source, requestID: requestID, interval: interval}
}

// Init polls immediately.
func (m model) Init() tea.Cmd {
	return m.poll()
}

func (m model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		entries, err := m.source.Statuses(ctx, m.requestID)
		if err != nil {
			return pollMsg{err: err}
		}
		rows, err := m.source.Metrics(ctx, m.requestID)
		if err != nil {
			return pollMsg{entries: entries, err: err}
		}
		return pollMsg{entries: entries, totals: tracking.Aggregate(rows, time.Time{}, time.Time{}).Totals}
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

// Update handles messages and updates the model accordingly.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}

	case pollMsg:
		m.err = msg.err
		if msg.entries != nil {
			m.entries = msg.entries
		}
		if msg.err == nil {
			m.totals = msg.totals
		}
		if n := len(m.entries); n > 0 && m.entries[n-1].Status.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, m.tick()

	case tickMsg:
		return m, m.poll()
	}

	return m, nil
}

// View renders the watcher.
func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Report " + m.requestID))
	b.WriteString("\n\n")

	entries := m.entries
	if limit := m.height - 10; limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	if len(entries) == 0 {
		b.WriteString("Waiting for status events...\n")
	}
	for _, e := range entries {
		badge := lipgloss.NewStyle().Bold(true).Width(11).Foreground(statusColors[e.Status]).Render(string(e.Status))
		fmt.Fprintf(&b, "%s %s %s\n", timeStyle.Render(e.Timestamp.Local().Format("15:04:05")), badge, e.Message)
	}

	footer := fmt.Sprintf("%d calls | %d tokens | $%.4f", m.totals.Calls, m.totals.TotalTokens, m.totals.TotalCost)
	if m.err != nil {
		footer += " | error: " + m.err.Error()
	}
	b.WriteString("\n")
	b.WriteString(footerStyle.Render(footer))

	if !m.done && !m.quitting {
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("[r] Refresh | [q] Quit"))
	}

	return docStyle.Render(b.String()) + "\n"
}

// Watch follows the status log of requestID until the run ends or the user quits.
func Watch(source Source, requestID string, interval time.Duration) error {
	p := tea.NewProgram(newModel(source, requestID, interval))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
