package llm

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"dossier/internal/config"
	"dossier/internal/core"

	"google.golang.org/genai"
)

func TestResultErr(t *testing.T) {
	transport := errors.New("connection reset")
	tests := []struct {
		name    string
		result  Result
		wantNil bool
		is      error
	}{
		{"success", Result{Kind: Success, Text: "ok"}, true, nil},
		{"empty", Empty(), false, ErrEmptyResponse},
		{"transport", Failure(transport), false, transport},
		{"transport without detail", Result{Kind: TransportError}, false, nil},
		{"unknown kind", Result{Kind: Kind(42)}, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Err()
			if tt.wantNil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("expected %v to wrap %v", err, tt.is)
			}
		})
	}
}

func TestEmptyResponseIsDistinctFromTransport(t *testing.T) {
	err := Failure(errors.New("503")).Err()
	if errors.Is(err, ErrEmptyResponse) {
		t.Error("transport failure must not match ErrEmptyResponse")
	}
}

func TestCallReturnsOnlySuccessfulResults(t *testing.T) {
	gen := NewScriptedGenerator(Empty(), Text("hello"))
	call := Call(gen)

	if _, err := call(context.Background(), Request{}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	res, err := call(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("got %q", res.Text)
	}
}

func TestScriptedGeneratorMatchesBeforeQueue(t *testing.T) {
	gen := NewScriptedGenerator(Text("queued"))
	gen.On("table of contents", Text("toc"))

	req := func(prompt string) Request {
		return Request{History: []core.Message{{Role: core.RoleUser, Text: prompt}}}
	}

	if got := gen.Generate(context.Background(), req("write the table of contents")).Text; got != "toc" {
		t.Errorf("expected matched reply, got %q", got)
	}
	if got := gen.Generate(context.Background(), req("write the table of contents")).Text; got != "queued" {
		t.Errorf("matched reply should be consumed, got %q", got)
	}
	if res := gen.Generate(context.Background(), req("anything")); res.Kind != TransportError {
		t.Errorf("expected transport error once exhausted, got %v", res.Kind)
	}
	if n := len(gen.Requests()); n != 3 {
		t.Errorf("expected 3 recorded requests, got %d", n)
	}
}

func TestBuildConfig(t *testing.T) {
	cfg := buildConfig(Request{
		System:          "You are an analyst.",
		Temperature:     0.4,
		TopP:            0.95,
		MaxOutputTokens: 65535,
		Grounding:       true,
		Seed:            Ptr(int32(0)),
	})

	if cfg.Temperature == nil || *cfg.Temperature != 0.4 {
		t.Errorf("temperature not set: %v", cfg.Temperature)
	}
	if cfg.TopP == nil || *cfg.TopP != 0.95 {
		t.Errorf("top_p not set: %v", cfg.TopP)
	}
	if cfg.Seed == nil || *cfg.Seed != 0 {
		t.Errorf("seed not set: %v", cfg.Seed)
	}
	if cfg.MaxOutputTokens != 65535 {
		t.Errorf("max output tokens = %d", cfg.MaxOutputTokens)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].GoogleSearch == nil {
		t.Error("expected google search tool when grounding is enabled")
	}
	if cfg.SystemInstruction == nil {
		t.Error("expected system instruction")
	}
	if len(cfg.SafetySettings) != 4 {
		t.Fatalf("expected 4 safety settings, got %d", len(cfg.SafetySettings))
	}
	for _, s := range cfg.SafetySettings {
		if s.Threshold != genai.HarmBlockThresholdOff {
			t.Errorf("category %s threshold %s", s.Category, s.Threshold)
		}
	}

	plain := buildConfig(Request{Temperature: 0.7})
	if plain.Tools != nil || plain.TopP != nil || plain.SystemInstruction != nil {
		t.Error("optional settings should stay unset")
	}
}

func TestToContentsMapsRoles(t *testing.T) {
	contents := toContents([]core.Message{
		{Role: core.RoleUser, Text: "q"},
		{Role: core.RoleModel, Text: "a"},
	})
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != genai.RoleUser || contents[1].Role != genai.RoleModel {
		t.Errorf("unexpected roles %q, %q", contents[0].Role, contents[1].Role)
	}
	if contents[1].Parts[0].Text != "a" {
		t.Errorf("unexpected text %q", contents[1].Parts[0].Text)
	}
}

func TestResultFromResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		ModelVersion: "gemini-2.5-pro-001",
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     1200,
			CandidatesTokenCount: 800,
		},
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText("Acme grew 10%.", genai.RoleModel),
			GroundingMetadata: &genai.GroundingMetadata{
				GroundingChunks: []*genai.GroundingChunk{
					{Web: &genai.GroundingChunkWeb{URI: "https://vertexaisearch.example/redirect/1", Title: "reuters.com"}},
					{Web: &genai.GroundingChunkWeb{URI: "https://www.ft.com/story"}},
					{},
				},
				GroundingSupports: []*genai.GroundingSupport{
					{Segment: &genai.Segment{Text: "Acme grew 10%."}, GroundingChunkIndices: []int32{0, 1}},
					{Segment: nil},
				},
			},
		}},
	}

	res := resultFromResponse(resp)
	if res.Kind != Success {
		t.Fatalf("expected success, got %v", res.Kind)
	}
	if res.Text != "Acme grew 10%." {
		t.Errorf("text = %q", res.Text)
	}
	if res.Usage.InputTokens != 1200 || res.Usage.OutputTokens != 800 || res.Usage.Total() != 2000 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if res.ModelVersion != "gemini-2.5-pro-001" {
		t.Errorf("model version = %q", res.ModelVersion)
	}
	if res.Grounding == nil || len(res.Grounding.Sources) != 3 || len(res.Grounding.Segments) != 1 {
		t.Fatalf("grounding = %+v", res.Grounding)
	}
	if res.Grounding.Sources[0].Domain != "reuters.com" || res.Grounding.Sources[1].Domain != "ft.com" {
		t.Errorf("domains = %q, %q", res.Grounding.Sources[0].Domain, res.Grounding.Sources[1].Domain)
	}
	if res.Grounding.Sources[2].URI != "" {
		t.Error("chunk without web metadata should yield an empty source")
	}
	if got := res.Grounding.Segments[0].SourceIndices; len(got) != 2 || got[1] != 1 {
		t.Errorf("indices = %v", got)
	}
}

func TestResultFromResponseEmpty(t *testing.T) {
	for _, resp := range []*genai.GenerateContentResponse{
		nil,
		{},
		{Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("   ", genai.RoleModel)}}},
	} {
		if res := resultFromResponse(resp); res.Kind != EmptyResponse {
			t.Errorf("expected EmptyResponse, got %v", res.Kind)
		}
	}
}

func TestNewGeminiClientRequiresCredentials(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), config.GeminiConfig{})
	if err == nil || !strings.Contains(err.Error(), "API key or Google Cloud project is required") {
		t.Errorf("expected credentials error, got %v", err)
	}
}

func TestGeminiClientGenerate(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set, skipping integration test")
	}

	client, err := NewGeminiClient(context.Background(), config.GeminiConfig{APIKey: apiKey, Timeout: "60s"})
	if err != nil {
		t.Fatalf("NewGeminiClient failed: %v", err)
	}

	res := client.Generate(context.Background(), Request{
		Model:       "gemini-2.5-flash",
		History:     []core.Message{{Role: core.RoleUser, Text: "Reply with the single word: ready"}},
		Temperature: 0,
	})
	if err := res.Err(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Text == "" {
		t.Error("expected text")
	}
}
