// Package llm is the boundary to the text generation service.
package llm

import (
	"context"
	"errors"
	"fmt"

	"dossier/internal/core"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")

// Kind classifies the outcome of a generation call.
type Kind int

const (
	Success Kind = iota
	EmptyResponse
	TransportError
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case EmptyResponse:
		return "empty_response"
	case TransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Request describes one generation call. History is the full conversation to
// send, ending with the user prompt being answered.
type Request struct {
	Model           string
	History         []core.Message
	System          string
	Temperature     float32
	TopP            float32 // 0 leaves the service default
	MaxOutputTokens int32   // 0 leaves the service default
	Grounding       bool    // Enable search grounding
	Seed            *int32
}

// Usage reports token counts for a call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Result is the outcome of a generation call. Text, Usage, Grounding and
// ModelVersion are meaningful only when Kind is Success; Detail carries the
// underlying error otherwise.
type Result struct {
	Kind         Kind
	Text         string
	Usage        Usage
	Grounding    *core.Grounding
	ModelVersion string
	Detail       error
}

// Err converts a non-success result into an error suitable for retrying.
func (r Result) Err() error {
	switch r.Kind {
	case Success:
		return nil
	case EmptyResponse:
		return ErrEmptyResponse
	case TransportError:
		if r.Detail == nil {
			return errors.New("generation failed")
		}
		return fmt.Errorf("generation failed: %w", r.Detail)
	default:
		return fmt.Errorf("unknown generation result kind %d", int(r.Kind))
	}
}

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) Result
}

// Call runs the generator and returns the result only when it succeeded.
// It is the shape retry.Do expects.
func Call(g Generator) func(context.Context, Request) (Result, error) {
	return func(ctx context.Context, req Request) (Result, error) {
		res := g.Generate(ctx, req)
		if err := res.Err(); err != nil {
			return Result{}, err
		}
		return res, nil
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
