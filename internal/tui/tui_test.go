package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossier/internal/tracking"
)

type fakeSource struct {
	entries []tracking.StatusEntry
	rows    []tracking.MetricRow
	err     error
}

func (f *fakeSource) Statuses(context.Context, string) ([]tracking.StatusEntry, error) {
	return f.entries, f.err
}

func (f *fakeSource) Metrics(context.Context, string) ([]tracking.MetricRow, error) {
	return f.rows, nil
}

func entry(status tracking.Status, msg string) tracking.StatusEntry {
	return tracking.StatusEntry{RequestID: "r1", Timestamp: time.Now(), Status: status, Message: msg}
}

func TestPollCollectsEntriesAndTotals(t *testing.T) {
	src := &fakeSource{
		entries: []tracking.StatusEntry{entry(tracking.StatusInitialize, "start")},
		rows:    []tracking.MetricRow{tracking.NewMetricRow("r1", "Table of Contents", "gemini-2.5-pro", 100, 50, time.Now())},
	}
	m := newModel(src, "r1", time.Second)

	msg, ok := m.Init()().(pollMsg)
	require.True(t, ok)
	assert.NoError(t, msg.err)
	assert.Len(t, msg.entries, 1)
	assert.Equal(t, 150, msg.totals.TotalTokens)
}

func TestUpdateKeepsPollingUntilTerminal(t *testing.T) {
	m := newModel(&fakeSource{}, "r1", time.Millisecond)

	next, cmd := m.Update(pollMsg{entries: []tracking.StatusEntry{entry(tracking.StatusGenerating, "Generating section 1/2: I. Overview")}})
	require.NotNil(t, cmd)
	assert.False(t, next.(model).done)
	assert.Contains(t, next.(model).View(), "I. Overview")
	assert.Contains(t, next.(model).View(), "[q] Quit")

	next, cmd = next.Update(pollMsg{entries: []tracking.StatusEntry{
		entry(tracking.StatusGenerating, "Generating section 1/2: I. Overview"),
		entry(tracking.StatusCompleted, "Report ready: reports/a.pdf"),
	}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, next.(model).done)
	assert.NotContains(t, next.(model).View(), "[q] Quit")
}

func TestUpdateShowsPollErrors(t *testing.T) {
	m := newModel(&fakeSource{}, "r1", time.Millisecond)
	next, _ := m.Update(pollMsg{err: errors.New("status file locked")})
	view := next.(model).View()
	assert.Contains(t, view, "Waiting for status events")
	assert.Contains(t, view, "status file locked")
}

func TestQuitKey(t *testing.T) {
	m := newModel(&fakeSource{}, "r1", 0)
	assert.Equal(t, defaultInterval, m.interval)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.True(t, next.(model).quitting)
}
