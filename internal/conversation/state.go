// Package conversation holds the rolling user/model history of a report run
// and persists it so interrupted runs can resume.
package conversation

import (
	"context"
	"strings"

	"dossier/internal/core"
	"dossier/internal/logger"
)

// Record is the persisted form of one turn. Section is set on model turns
// that completed a report section, so a resumed run can reuse it.
type Record struct {
	Role    core.Role           `json:"role"`
	Parts   []string            `json:"parts"`
	Section *core.ReportSection `json:"section,omitempty"`
}

// Text joins the record's parts.
func (r Record) Text() string {
	return strings.Join(r.Parts, "\n")
}

// State is the ordered history for one run. It is not safe for concurrent use;
// each run owns exactly one State.
type State struct {
	records []Record
}

// NewState returns an empty history.
func NewState() *State {
	return &State{}
}

// Append adds a turn. Callers keep roles alternating starting with user;
// a violation is logged, not rejected.
func (s *State) Append(ctx context.Context, role core.Role, text string) {
	expected := core.RoleUser
	if len(s.records)%2 == 1 {
		expected = core.RoleModel
	}
	if role != expected {
		logger.FromContext(ctx).Debug("Conversation role out of order",
			"expected", string(expected),
			"got", string(role),
			"position", len(s.records))
	}
	s.records = append(s.records, Record{Role: role, Parts: []string{text}})
}

// Annotate attaches a finished section to the latest model turn.
func (s *State) Annotate(section core.ReportSection) {
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Role == core.RoleModel {
			sec := section
			s.records[i].Section = &sec
			return
		}
	}
}

// Len returns the number of turns.
func (s *State) Len() int {
	return len(s.records)
}

// Snapshot returns a copy of the history suitable for persisting.
func (s *State) Snapshot() []Record {
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = Record{Role: r.Role, Parts: append([]string(nil), r.Parts...), Section: r.Section}
	}
	return out
}

// Restore replaces the history wholesale.
func (s *State) Restore(records []Record) {
	s.records = make([]Record, len(records))
	copy(s.records, records)
}

// Context returns the full history as model messages.
func (s *State) Context() []core.Message {
	out := make([]core.Message, len(s.records))
	for i, r := range s.records {
		out[i] = core.Message{Role: r.Role, Text: r.Text()}
	}
	return out
}

// Turn returns the text of the i-th turn, or "" when out of range.
func (s *State) Turn(i int) string {
	if i < 0 || i >= len(s.records) {
		return ""
	}
	return s.records[i].Text()
}

// Sections returns the sections checkpointed in the history, in order.
func (s *State) Sections() []core.ReportSection {
	var out []core.ReportSection
	for _, r := range s.records {
		if r.Section != nil {
			out = append(out, *r.Section)
		}
	}
	return out
}

// Window returns the history trimmed to at most maxChars of text. The first
// user/model pair (the table of contents exchange) is always kept; the
// oldest following pairs are dropped first. A history that still does not
// fit after dropping every droppable pair is returned as trimmed as it gets.
// The second result reports whether anything was dropped.
func (s *State) Window(maxChars int) ([]core.Message, bool) {
	all := s.Context()
	if maxChars <= 0 || totalChars(all) <= maxChars {
		return all, false
	}

	head := 2
	if len(all) < head {
		return all, false
	}

	rest := all[head:]
	size := totalChars(all)
	dropped := 0
	for len(rest)-dropped >= 2 && size > maxChars {
		size -= len(rest[dropped].Text) + len(rest[dropped+1].Text)
		dropped += 2
	}
	if dropped == 0 {
		return all, false
	}

	out := make([]core.Message, 0, head+len(rest)-dropped)
	out = append(out, all[:head]...)
	out = append(out, rest[dropped:]...)
	return out, true
}

func totalChars(msgs []core.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Text)
	}
	return n
}
