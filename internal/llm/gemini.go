package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"dossier/internal/config"
	"dossier/internal/core"
	"dossier/internal/logger"

	"google.golang.org/genai"
)

// GeminiClient generates text with Google Gemini through the genai SDK.
type GeminiClient struct {
	client  *genai.Client
	timeout time.Duration
}

// NewGeminiClient builds a client. An API key selects the Gemini API backend;
// otherwise a project selects Vertex AI.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig) (*GeminiClient, error) {
	var cc *genai.ClientConfig
	switch {
	case cfg.APIKey != "":
		cc = &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
	case cfg.Project != "":
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	default:
		return nil, fmt.Errorf("gemini API key or Google Cloud project is required. Set GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		timeout: config.Duration(cfg.Timeout, 0),
	}, nil
}

// Generate implements Generator.
func (c *GeminiClient) Generate(ctx context.Context, req Request) Result {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, toContents(req.History), buildConfig(req))
	if err != nil {
		return Result{Kind: TransportError, Detail: err}
	}

	res := resultFromResponse(resp)
	logger.FromContext(ctx).Debug("Model call finished",
		"model", req.Model,
		"kind", res.Kind.String(),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"duration_ms", time.Since(started).Milliseconds())
	return res
}

func toContents(history []core.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.RoleUser
		if m.Role == core.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, genai.Role(role)))
	}
	return contents
}

var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

func buildConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
		Seed:        req.Seed,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.TopP > 0 {
		cfg.TopP = genai.Ptr(req.TopP)
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = req.MaxOutputTokens
	}
	if req.Grounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	for _, category := range safetyCategories {
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdOff,
		})
	}
	return cfg
}

func resultFromResponse(resp *genai.GenerateContentResponse) Result {
	if resp == nil {
		return Result{Kind: EmptyResponse, Detail: ErrEmptyResponse}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Result{Kind: EmptyResponse, Detail: ErrEmptyResponse}
	}

	res := Result{
		Kind:         Success,
		Text:         text,
		ModelVersion: resp.ModelVersion,
	}
	if resp.UsageMetadata != nil {
		res.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		res.Grounding = groundingFrom(resp.Candidates[0].GroundingMetadata)
	}
	return res
}

func groundingFrom(md *genai.GroundingMetadata) *core.Grounding {
	if md == nil {
		return nil
	}

	g := &core.Grounding{}
	for _, chunk := range md.GroundingChunks {
		var src core.GroundingSource
		if chunk != nil && chunk.Web != nil {
			src = core.GroundingSource{
				URI:    chunk.Web.URI,
				Title:  chunk.Web.Title,
				Domain: sourceDomain(chunk.Web.Title, chunk.Web.URI),
			}
		}
		g.Sources = append(g.Sources, src)
	}
	for _, support := range md.GroundingSupports {
		if support == nil || support.Segment == nil {
			continue
		}
		seg := core.GroundingSegment{Text: support.Segment.Text}
		for _, idx := range support.GroundingChunkIndices {
			seg.SourceIndices = append(seg.SourceIndices, int(idx))
		}
		g.Segments = append(g.Segments, seg)
	}
	return g
}

// sourceDomain prefers the chunk title, which search grounding fills with the
// publisher domain, since URIs are usually redirect links.
func sourceDomain(title, uri string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}
