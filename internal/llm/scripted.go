package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"dossier/internal/core"
)

// Step is one scripted reply. Match, when set, must be a substring of the
// last user message for the step to apply.
type Step struct {
	Match  string
	Result Result
}

// ScriptedGenerator replays canned results. Steps with a Match are consulted
// first; otherwise results are consumed in order, and Fallback answers once
// the queue is empty. It records every request it receives.
type ScriptedGenerator struct {
	mu       sync.Mutex
	matched  []Step
	queue    []Result
	Fallback func(Request) Result
	requests []Request
}

// NewScriptedGenerator queues results to be returned in order.
func NewScriptedGenerator(results ...Result) *ScriptedGenerator {
	return &ScriptedGenerator{queue: results}
}

// On registers a reply for prompts containing match. Each registration answers once.
func (s *ScriptedGenerator) On(match string, results ...Result) *ScriptedGenerator {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		s.matched = append(s.matched, Step{Match: match, Result: r})
	}
	return s
}

// Generate implements Generator.
func (s *ScriptedGenerator) Generate(ctx context.Context, req Request) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if err := ctx.Err(); err != nil {
		return Result{Kind: TransportError, Detail: err}
	}

	prompt := lastUserText(req)
	for i, step := range s.matched {
		if strings.Contains(prompt, step.Match) {
			s.matched = append(s.matched[:i], s.matched[i+1:]...)
			return step.Result
		}
	}
	if len(s.queue) > 0 {
		r := s.queue[0]
		s.queue = s.queue[1:]
		return r
	}
	if s.Fallback != nil {
		return s.Fallback(req)
	}
	return Result{Kind: TransportError, Detail: fmt.Errorf("no scripted result for prompt %q", truncate(prompt, 60))}
}

// Requests returns a copy of every request seen so far.
func (s *ScriptedGenerator) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Text builds a successful result.
func Text(text string) Result {
	return Result{Kind: Success, Text: text, Usage: Usage{InputTokens: 100, OutputTokens: len(text) / 4}, ModelVersion: "scripted"}
}

// Failure builds a transport error result.
func Failure(err error) Result {
	return Result{Kind: TransportError, Detail: err}
}

// Empty builds an empty-response result.
func Empty() Result {
	return Result{Kind: EmptyResponse, Detail: ErrEmptyResponse}
}

func lastUserText(req Request) string {
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == core.RoleUser {
			return req.History[i].Text
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
