package pipeline

import (
	"fmt"
	"strings"

	"dossier/internal/core"
	"dossier/internal/cost"
	"dossier/internal/llm"
)

var defaultDryRunSections = []string{
	"Executive Summary",
	"Market Overview",
	"Competitive Landscape",
	"Strategic Recommendations",
}

// NewDryRunGenerator answers every prompt kind with deterministic placeholder
// text so a full run can be exercised without calling a model. Token usage is
// estimated from the prompt and reply lengths.
func NewDryRunGenerator(cfg core.ReportConfig) *llm.ScriptedGenerator {
	g := llm.NewScriptedGenerator()
	g.Fallback = func(req llm.Request) llm.Result {
		prompt := lastPrompt(req.History)
		text := dryRunReply(cfg, prompt)

		input := 0
		for _, m := range req.History {
			input += cost.EstimateTokenCount(m.Text)
		}
		input += cost.EstimateTokenCount(req.System)

		return llm.Result{
			Kind:         llm.Success,
			Text:         text,
			Usage:        llm.Usage{InputTokens: input, OutputTokens: cost.EstimateTokenCount(text)},
			ModelVersion: req.Model,
		}
	}
	return g
}

func dryRunReply(cfg core.ReportConfig, prompt string) string {
	switch {
	case strings.Contains(prompt, tocPromptLead):
		sections := cfg.SectionGuidance
		if len(sections) == 0 {
			sections = defaultDryRunSections
		}
		var b strings.Builder
		b.WriteString(fmt.Sprintf("%s: Strategic Outlook\n\n", orDefault(cfg.PrimaryEntity, "Market")))
		for i, s := range append(append([]string(nil), sections...), "References") {
			b.WriteString(fmt.Sprintf("%s. %s\n", roman(i+1), s))
		}
		return b.String()

	case strings.Contains(prompt, extractionPromptLead):
		_, toc, _ := strings.Cut(prompt, "Input:\n")
		title := DefaultReportTitle
		for _, line := range strings.Split(toc, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				title = line
				break
			}
		}
		return fmt.Sprintf("TITLE: %s\nSECTIONS:\n%s", title, strings.Join(scanRomanSections(toc), "\n"))

	case strings.Contains(prompt, sectionPromptLead):
		title := "Section"
		if _, rest, ok := strings.Cut(prompt, "on the topic: **"); ok {
			title, _, _ = strings.Cut(rest, "**")
		}
		return fmt.Sprintf("## %s\n\nThis is placeholder content for %s, produced without calling a model.", title, title)

	case strings.Contains(prompt, referencesPromptLead):
		return "## References\n\n1. Placeholder reference."

	case strings.Contains(prompt, polishPromptLead):
		_, content, _ := strings.Cut(prompt, polishContentMarker)
		return content

	default:
		return "Placeholder response."
	}
}

func lastPrompt(history []core.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			return history[i].Text
		}
	}
	return ""
}

// roman formats n (1..39) as a Roman numeral.
func roman(n int) string {
	var b strings.Builder
	for _, step := range []struct {
		value  int
		symbol string
	}{{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"}} {
		for n >= step.value {
			b.WriteString(step.symbol)
			n -= step.value
		}
	}
	return b.String()
}
