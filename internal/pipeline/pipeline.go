// Package pipeline generates a report section by section: it writes a table
// of contents, extracts its sections, then generates, cites, normalizes and
// polishes each section in order over one rolling conversation.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dossier/internal/citations"
	"dossier/internal/conversation"
	"dossier/internal/core"
	"dossier/internal/llm"
	"dossier/internal/logger"
	"dossier/internal/retry"
	"dossier/internal/tracking"
)

const (
	tocTemperature        = 0.4
	sectionTemperature    = 0.0
	polishTemperature     = 0.7
	extractionTopP        = 0.95
	defaultMaxOutput      = 65535
	defaultContextChars   = 600_000
	defaultContextSection = 3
	defaultExcerptChars   = 200
)

// Observer receives progress from a run. Implementations must not block for long.
type Observer interface {
	// Status reports a lifecycle transition.
	Status(ctx context.Context, status tracking.Status, message string)
	// Usage reports token usage of one successful model call.
	Usage(ctx context.Context, step, model string, usage llm.Usage)
	// Checkpoint is called after the history gained a completed exchange.
	Checkpoint(ctx context.Context, state *conversation.State)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) Status(context.Context, tracking.Status, string)  {}
func (NopObserver) Usage(context.Context, string, string, llm.Usage) {}
func (NopObserver) Checkpoint(context.Context, *conversation.State)  {}

// Options tunes prompt sizes and output limits.
type Options struct {
	ContextWindowChars int   // History budget in characters; 0 sends everything
	MaxOutputTokens    int32 // Output limit for section calls
	ContextSections    int   // Previous sections summarized in each section prompt
	ExcerptChars       int   // Characters of each summarized section
}

// DefaultOptions returns the limits used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ContextWindowChars: defaultContextChars,
		MaxOutputTokens:    defaultMaxOutput,
		ContextSections:    defaultContextSection,
		ExcerptChars:       defaultExcerptChars,
	}
}

// Result is the outcome of a run. Failed counts sections holding an error
// placeholder; an empty Sections list means the outline itself failed.
type Result struct {
	Title    string
	TOC      string
	Sections []core.ReportSection
	Failed   int
}

// Pipeline runs the section generation state machine. It holds no per-run
// state and may be reused across runs.
type Pipeline struct {
	gen      llm.Generator
	retry    *retry.Executor
	observer Observer
	opts     Options
}

// New creates a pipeline. A nil observer is replaced by NopObserver.
func New(gen llm.Generator, exec *retry.Executor, observer Observer, opts Options) *Pipeline {
	if observer == nil {
		observer = NopObserver{}
	}
	if opts.ContextSections == 0 {
		opts.ContextSections = defaultContextSection
	}
	if opts.ExcerptChars == 0 {
		opts.ExcerptChars = defaultExcerptChars
	}
	return &Pipeline{gen: gen, retry: exec, observer: observer, opts: opts}
}

// Run generates every section of the report described by rc. state carries
// the rolling history; a restored history lets the run skip the outline and
// any section already completed. Only outline failures are returned as
// errors; a failed section is recorded in place and the run continues.
func (p *Pipeline) Run(ctx context.Context, rc *core.RequestContext, state *conversation.State) (*Result, error) {
	cfg := rc.Config
	log := logger.FromContext(ctx)
	system := BuildSystemInstruction(cfg)
	result := &Result{}

	tocPrompt, toc, err := p.tableOfContents(ctx, cfg, system, state)
	if err != nil {
		return result, err
	}
	result.TOC = toc

	title, titles := p.extractSections(ctx, cfg, tocPrompt, toc)
	result.Title = title
	if len(titles) == 0 {
		log.Error("No sections found in table of contents", "toc_chars", len(toc))
		return result, ErrNoSections
	}
	log.Info("Table of contents ready", "title", title, "sections", len(titles))

	completed := completedSections(state)
	started := time.Now()
	generated := 0

	for i, sectionTitle := range titles {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("report generation interrupted: %w", err)
		}

		number := i + 1
		isLast := number == len(titles)
		isReferences := isLast && citations.IsReferencesTitle(sectionTitle)

		if section, ok := completed[sectionTitle]; ok {
			log.Info("Reusing section from saved history", "section", sectionTitle)
			result.Sections = append(result.Sections, section)
			continue
		}

		sectionStart := time.Now()
		p.observer.Status(ctx, tracking.StatusGenerating, fmt.Sprintf("Generating section %d/%d: %s", number, len(titles), sectionTitle))

		var section core.ReportSection
		var appended bool
		if isReferences {
			section, appended, err = p.references(ctx, cfg, system, state, sectionTitle, result.Sections)
		} else {
			section, appended, err = p.section(ctx, cfg, system, state, number, sectionTitle, result.Sections)
		}
		if err != nil {
			log.Error("Failed to generate section", "section", sectionTitle, "number", number, "error", err.Error())
			p.observer.Status(ctx, tracking.StatusGenerating, fmt.Sprintf("Failed to generate section %s: %v", sectionTitle, err))
			result.Sections = append(result.Sections, failedSection(sectionTitle, err))
			result.Failed++
			continue
		}

		if !isLast && ShouldPolish(sectionTitle, isReferences, cfg.PolishSkipTerms) {
			p.observer.Status(ctx, tracking.StatusPolishing, fmt.Sprintf("Polishing section %d/%d: %s", number, len(titles), sectionTitle))
			section.Content = p.polish(ctx, cfg, system, sectionTitle, section.Content)
		} else {
			log.Debug("Skipping polish", "section", sectionTitle)
		}

		if appended {
			state.Annotate(section)
			p.observer.Checkpoint(ctx, state)
		}
		result.Sections = append(result.Sections, section)

		generated++
		remaining := time.Duration(0)
		if left := len(titles) - number; left > 0 {
			remaining = time.Since(started) / time.Duration(generated) * time.Duration(left)
		}
		log.Info("Section completed",
			"section", sectionTitle,
			"number", number,
			"total", len(titles),
			"duration", time.Since(sectionStart).Round(time.Second).String(),
			"estimated_remaining", remaining.Round(time.Second).String())
	}

	return result, nil
}

// tableOfContents returns the outline prompt and text, generating them unless
// the history already starts with that exchange.
func (p *Pipeline) tableOfContents(ctx context.Context, cfg core.ReportConfig, system string, state *conversation.State) (string, string, error) {
	log := logger.FromContext(ctx)

	if state.Len() >= 2 && strings.TrimSpace(state.Turn(1)) != "" {
		log.Info("Reusing table of contents from saved history", "turns", state.Len())
		return state.Turn(0), state.Turn(1), nil
	}
	if state.Len() > 0 {
		log.Warn("Discarding incomplete history", "turns", state.Len())
		state.Restore(nil)
	}

	p.observer.Status(ctx, tracking.StatusGenerating, "Generating table of contents")
	prompt := BuildTOCPrompt(cfg)
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = tocTemperature
	}

	res, err := p.call(ctx, "Table of Contents", llm.Request{
		Model:       cfg.ModelID,
		History:     []core.Message{{Role: core.RoleUser, Text: prompt}},
		System:      system,
		Temperature: temperature,
		Grounding:   true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate table of contents: %w", err)
	}

	state.Append(ctx, core.RoleUser, prompt)
	state.Append(ctx, core.RoleModel, res.Text)
	p.observer.Checkpoint(ctx, state)
	return prompt, res.Text, nil
}

// extractSections reduces the outline to a title and section list. The
// extraction exchange is not added to the rolling history.
func (p *Pipeline) extractSections(ctx context.Context, cfg core.ReportConfig, tocPrompt, toc string) (string, []string) {
	log := logger.FromContext(ctx)
	p.observer.Status(ctx, tracking.StatusGenerating, "Extracting sections from table of contents")

	res, err := p.call(ctx, "TOC Extraction", llm.Request{
		Model: cfg.FastModel(),
		History: []core.Message{
			{Role: core.RoleUser, Text: tocPrompt},
			{Role: core.RoleModel, Text: toc},
			{Role: core.RoleUser, Text: BuildExtractionPrompt(cfg.Language, toc)},
		},
		System:      extractionSystemInstruction,
		Temperature: 0,
		TopP:        extractionTopP,
		Seed:        llm.Ptr[int32](0),
	})
	if err != nil {
		log.Warn("TOC extraction failed, scanning outline instead", "error", err.Error())
	}

	title, sections := ParseTableOfContents(res.Text, toc)
	log.Info("Extracted sections from table of contents", "title", title, "sections", len(sections))
	return title, sections
}

func (p *Pipeline) section(ctx context.Context, cfg core.ReportConfig, system string, state *conversation.State, number int, title string, previous []core.ReportSection) (core.ReportSection, bool, error) {
	prompt := BuildSectionPrompt(cfg, title, previous, p.opts.ContextSections, p.opts.ExcerptChars)

	maxOutput := p.opts.MaxOutputTokens
	if maxOutput == 0 {
		maxOutput = defaultMaxOutput
	}
	res, err := p.call(ctx, title, llm.Request{
		Model:           cfg.ModelID,
		History:         p.window(ctx, state, prompt),
		System:          system,
		Temperature:     sectionTemperature,
		MaxOutputTokens: maxOutput,
		Grounding:       true,
	})
	if err != nil {
		return core.ReportSection{}, false, err
	}

	state.Append(ctx, core.RoleUser, prompt)
	state.Append(ctx, core.RoleModel, res.Text)

	content, refs := citations.Rewrite(res.Text, number, res.Grounding)
	return core.ReportSection{
		Title:      title,
		Content:    NormalizeHeadings(content, title),
		References: refs,
	}, true, nil
}

// references writes the bibliography from the citation labels of earlier
// sections. With no citations it returns a placeholder without calling the model.
func (p *Pipeline) references(ctx context.Context, cfg core.ReportConfig, system string, state *conversation.State, title string, previous []core.ReportSection) (core.ReportSection, bool, error) {
	contents := make([]string, 0, len(previous))
	for _, s := range previous {
		if !s.Failed {
			contents = append(contents, s.Content)
		}
	}
	labels := citations.ExtractLabels(strings.Join(contents, "\n"))
	if len(labels) == 0 {
		logger.FromContext(ctx).Info("No citations found, skipping references generation")
		return core.ReportSection{
			Title:   title,
			Content: fmt.Sprintf("## %s\n\nNo references cited in the report.", title),
		}, false, nil
	}

	prompt := BuildReferencesPrompt(cfg, title, labels)
	res, err := p.call(ctx, title, llm.Request{
		Model:       cfg.ModelID,
		History:     p.window(ctx, state, prompt),
		System:      system,
		Temperature: sectionTemperature,
	})
	if err != nil {
		return core.ReportSection{}, false, err
	}

	state.Append(ctx, core.RoleUser, prompt)
	state.Append(ctx, core.RoleModel, res.Text)
	return core.ReportSection{Title: title, Content: NormalizeHeadings(res.Text, title)}, true, nil
}

// polish returns the edited content, or the original when the call fails or
// the edit dropped citation markers.
func (p *Pipeline) polish(ctx context.Context, cfg core.ReportConfig, system, title, content string) string {
	log := logger.FromContext(ctx)

	res, err := p.call(ctx, "Polish: "+title, llm.Request{
		Model:       cfg.FastModel(),
		History:     []core.Message{{Role: core.RoleUser, Text: BuildPolishPrompt(content)}},
		System:      system,
		Temperature: polishTemperature,
	})
	if err != nil {
		log.Warn("Polishing failed, keeping original content", "section", title, "error", err.Error())
		return content
	}

	polished := NormalizeHeadings(res.Text, title)
	if strings.Count(polished, "#ref-section-") != strings.Count(content, "#ref-section-") {
		log.Warn("Polishing changed citation markers, keeping original content", "section", title)
		return content
	}
	return polished
}

// window returns the history to send with prompt, trimmed to the configured budget.
func (p *Pipeline) window(ctx context.Context, state *conversation.State, prompt string) []core.Message {
	budget := p.opts.ContextWindowChars
	if budget > 0 {
		budget -= len(prompt)
		if budget < 1 {
			budget = 1
		}
	}

	history, trimmed := state.Window(budget)
	if trimmed {
		logger.FromContext(ctx).Warn("Conversation history trimmed to fit context window",
			"max_chars", p.opts.ContextWindowChars,
			"kept_turns", len(history),
			"total_turns", state.Len())
	}
	return append(history, core.Message{Role: core.RoleUser, Text: prompt})
}

// call runs one generation request under the retry policy and reports usage.
func (p *Pipeline) call(ctx context.Context, step string, req llm.Request) (llm.Result, error) {
	res, err := retry.Do(ctx, p.retry, step, func(ctx context.Context) (llm.Result, error) {
		return llm.Call(p.gen)(ctx, req)
	})
	if err != nil {
		return llm.Result{}, err
	}

	model := res.ModelVersion
	if model == "" {
		model = req.Model
	}
	p.observer.Usage(ctx, step, model, res.Usage)
	return res, nil
}

func completedSections(state *conversation.State) map[string]core.ReportSection {
	out := map[string]core.ReportSection{}
	for _, s := range state.Sections() {
		if !s.Failed {
			out[s.Title] = s
		}
	}
	return out
}

func failedSection(title string, err error) core.ReportSection {
	return core.ReportSection{
		Title:   title,
		Content: fmt.Sprintf("## %s\n\n> **Error generating this section:** %s", title, strings.ReplaceAll(err.Error(), "\n", " ")),
		Failed:  true,
	}
}
