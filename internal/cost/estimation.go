package cost

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// GeminiPricing represents the current pricing for Gemini models
type GeminiPricing struct {
	Model                 string
	InputCostPer1MTokens  float64 // Cost per 1M input tokens in USD
	OutputCostPer1MTokens float64 // Cost per 1M output tokens in USD
	EstimatedOutputTokens int     // Typical output tokens for a report section
	MaxRequestsPerMinute  int     // Rate limiting
}

// PricingTable contains Gemini pricing used for report metrics
var PricingTable = map[string]GeminiPricing{
	"gemini-2.5-pro": {
		Model:                 "gemini-2.5-pro",
		InputCostPer1MTokens:  1.25,
		OutputCostPer1MTokens: 10.00,
		EstimatedOutputTokens: 6000, // Long grounded section
		MaxRequestsPerMinute:  150,
	},
	"gemini-2.5-flash": {
		Model:                 "gemini-2.5-flash",
		InputCostPer1MTokens:  0.15,
		OutputCostPer1MTokens: 3.50,
		EstimatedOutputTokens: 5000, // Polished rewrite of a section
		MaxRequestsPerMinute:  1000,
	},
	"gemini-2.5-flash-lite": {
		Model:                 "gemini-2.5-flash-lite",
		InputCostPer1MTokens:  0.10,
		OutputCostPer1MTokens: 0.40,
		EstimatedOutputTokens: 4000,
		MaxRequestsPerMinute:  4000,
	},
}

// Lookup returns pricing for a model name or version string such as
// "gemini-2.5-pro-preview-06-05". Unknown pro models price as pro; anything
// else prices as flash.
func Lookup(model string) GeminiPricing {
	name := strings.ToLower(strings.TrimPrefix(model, "models/"))
	if p, ok := PricingTable[name]; ok {
		return p
	}

	best := ""
	for key := range PricingTable {
		if strings.HasPrefix(name, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return PricingTable[best]
	}

	if strings.Contains(name, "pro") {
		return PricingTable["gemini-2.5-pro"]
	}
	return PricingTable["gemini-2.5-flash"]
}

// CallCost is the priced usage of one model call.
type CallCost struct {
	Model                 string
	InputTokens           int
	OutputTokens          int
	InputCostPer1MTokens  float64
	OutputCostPer1MTokens float64
	InputCost             float64
	OutputCost            float64
	TotalCost             float64
}

// TotalTokens returns input plus output tokens.
func (c CallCost) TotalTokens() int { return c.InputTokens + c.OutputTokens }

// Compute prices a call. Costs are rounded to six decimal places.
func Compute(model string, inputTokens, outputTokens int) CallCost {
	p := Lookup(model)
	in := round6(float64(inputTokens) * p.InputCostPer1MTokens / 1000000)
	out := round6(float64(outputTokens) * p.OutputCostPer1MTokens / 1000000)
	return CallCost{
		Model:                 model,
		InputTokens:           inputTokens,
		OutputTokens:          outputTokens,
		InputCostPer1MTokens:  p.InputCostPer1MTokens,
		OutputCostPer1MTokens: p.OutputCostPer1MTokens,
		InputCost:             in,
		OutputCost:            out,
		TotalCost:             round6(in + out),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// EstimateTokenCount provides a rough estimation of token count for text
// This is a simplified approximation: typically 1 token ≈ 0.75 words ≈ 4 characters
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")

	charCount := utf8.RuneCountInString(text)

	// 3.5 rather than 4 leaves room for special tokens and formatting
	return int(math.Ceil(float64(charCount) / 3.5))
}

// SectionCostEstimate is the estimated cost of generating and polishing one section
type SectionCostEstimate struct {
	Index        int
	InputTokens  int
	OutputTokens int
	TotalCost    float64
}

// ReportCostEstimate is the estimated cost of a full report run
type ReportCostEstimate struct {
	Model                 string
	FastModel             string
	Sections              []SectionCostEstimate
	TotalInputTokens      int
	TotalOutputTokens     int
	TotalCost             float64
	ProcessingTimeMinutes float64
	RateLimitWarning      string
}

// EstimateReportCost estimates a run of sectionCount sections. The rolling
// context means every section call re-sends all earlier output, so input
// tokens grow with the section index.
func EstimateReportCost(sectionCount int, model, fastModel string, promptOverhead string) *ReportCostEstimate {
	main := Lookup(model)
	fast := Lookup(fastModel)
	overhead := EstimateTokenCount(promptOverhead) + 400

	estimate := &ReportCostEstimate{
		Model:     model,
		FastModel: fastModel,
		Sections:  make([]SectionCostEstimate, 0, sectionCount),
	}

	// TOC generation and extraction
	tocCost := Compute(main.Model, overhead, 800)
	extractCost := Compute(fast.Model, overhead+800, 300)
	estimate.TotalInputTokens += tocCost.InputTokens + extractCost.InputTokens
	estimate.TotalOutputTokens += tocCost.OutputTokens + extractCost.OutputTokens
	estimate.TotalCost += tocCost.TotalCost + extractCost.TotalCost

	history := overhead + 800
	for i := 1; i <= sectionCount; i++ {
		gen := Compute(main.Model, history+overhead, main.EstimatedOutputTokens)
		polish := Compute(fast.Model, main.EstimatedOutputTokens+overhead, fast.EstimatedOutputTokens)
		history += overhead + main.EstimatedOutputTokens

		sec := SectionCostEstimate{
			Index:        i,
			InputTokens:  gen.InputTokens + polish.InputTokens,
			OutputTokens: gen.OutputTokens + polish.OutputTokens,
			TotalCost:    round6(gen.TotalCost + polish.TotalCost),
		}
		estimate.Sections = append(estimate.Sections, sec)
		estimate.TotalInputTokens += sec.InputTokens
		estimate.TotalOutputTokens += sec.OutputTokens
		estimate.TotalCost += sec.TotalCost
	}
	estimate.TotalCost = round6(estimate.TotalCost)

	// Grounded long-form calls take roughly a minute each
	totalRequests := 2 + 2*sectionCount
	estimate.ProcessingTimeMinutes = float64(sectionCount) + float64(sectionCount+2)*0.25

	requestsPerMinute := float64(totalRequests) / math.Max(estimate.ProcessingTimeMinutes, 1)
	if requestsPerMinute > float64(main.MaxRequestsPerMinute) {
		estimate.RateLimitWarning = fmt.Sprintf(
			"Warning: Estimated %d requests may exceed rate limit of %d/min for %s",
			totalRequests, main.MaxRequestsPerMinute, model,
		)
	}

	return estimate
}

// FormatEstimate formats the cost estimate for display
func (e *ReportCostEstimate) FormatEstimate() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Cost Estimation for %s (polishing with %s)\n", e.Model, e.FastModel))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	sb.WriteString("📊 Summary:\n")
	sb.WriteString(fmt.Sprintf("   Sections: %d\n", len(e.Sections)))
	sb.WriteString(fmt.Sprintf("   Total estimated cost: $%.6f\n", e.TotalCost))
	sb.WriteString(fmt.Sprintf("   Estimated processing time: %.1f minutes\n", e.ProcessingTimeMinutes))

	if e.RateLimitWarning != "" {
		sb.WriteString(fmt.Sprintf("   ⚠️  %s\n", e.RateLimitWarning))
	}
	sb.WriteString("\n")

	sb.WriteString("💰 Tokens:\n")
	sb.WriteString(fmt.Sprintf("   Input tokens: %d\n", e.TotalInputTokens))
	sb.WriteString(fmt.Sprintf("   Output tokens: %d\n", e.TotalOutputTokens))
	sb.WriteString("\n")

	if len(e.Sections) > 0 {
		sb.WriteString("📝 Per-Section Estimates (showing first 5):\n")
		for i, s := range e.Sections {
			if i >= 5 {
				sb.WriteString(fmt.Sprintf("   ... and %d more sections\n", len(e.Sections)-5))
				break
			}
			sb.WriteString(fmt.Sprintf("   %d. $%.6f (%d in / %d out)\n", s.Index, s.TotalCost, s.InputTokens, s.OutputTokens))
		}
	}

	return sb.String()
}
