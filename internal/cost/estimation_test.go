package cost

import (
	"strings"
	"testing"
)

func TestEstimateTokenCount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{
			name:     "empty string",
			input:    "",
			expected: 0,
		},
		{
			name:     "simple text",
			input:    "Hello world",
			expected: 4, // 11 chars / 3.5 ≈ 3.14, ceil = 4
		},
		{
			name:     "text with newlines",
			input:    "Line 1\nLine 2\nLine 3",
			expected: 6, // 20 chars / 3.5 ≈ 5.71, ceil = 6
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EstimateTokenCount(tt.input)
			if result != tt.expected {
				t.Errorf("EstimateTokenCount(%q) = %d, expected %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gemini-2.5-pro", "gemini-2.5-pro"},
		{"models/gemini-2.5-flash", "gemini-2.5-flash"},
		{"gemini-2.5-pro-preview-06-05", "gemini-2.5-pro"},
		{"gemini-2.5-flash-lite-001", "gemini-2.5-flash-lite"},
		{"gemini-3-pro", "gemini-2.5-pro"},
		{"something-else", "gemini-2.5-flash"},
		{"", "gemini-2.5-flash"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := Lookup(tt.model).Model; got != tt.want {
				t.Errorf("Lookup(%q) = %s, expected %s", tt.model, got, tt.want)
			}
		})
	}
}

func TestCompute(t *testing.T) {
	c := Compute("gemini-2.5-pro", 1_000_000, 500_000)

	if c.InputCostPer1MTokens != 1.25 || c.OutputCostPer1MTokens != 10.0 {
		t.Fatalf("unexpected rates %v / %v", c.InputCostPer1MTokens, c.OutputCostPer1MTokens)
	}
	if c.InputCost != 1.25 {
		t.Errorf("InputCost = %v", c.InputCost)
	}
	if c.OutputCost != 5.0 {
		t.Errorf("OutputCost = %v", c.OutputCost)
	}
	if c.TotalCost != 6.25 {
		t.Errorf("TotalCost = %v", c.TotalCost)
	}
	if c.TotalTokens() != 1_500_000 {
		t.Errorf("TotalTokens = %d", c.TotalTokens())
	}
}

func TestComputeRoundsToSixDecimals(t *testing.T) {
	c := Compute("gemini-2.5-flash", 7, 4)
	// 7 * 0.15 / 1e6 = 0.00000105 -> 0.000001
	if c.InputCost != 0.000001 {
		t.Errorf("InputCost = %v", c.InputCost)
	}
	// 4 * 3.5 / 1e6 = 0.000014
	if c.OutputCost != 0.000014 {
		t.Errorf("OutputCost = %v", c.OutputCost)
	}
}

func TestEstimateReportCost(t *testing.T) {
	est := EstimateReportCost(8, "gemini-2.5-pro", "gemini-2.5-flash", "Write a report about Acme")

	if len(est.Sections) != 8 {
		t.Fatalf("expected 8 sections, got %d", len(est.Sections))
	}
	for i := 1; i < len(est.Sections); i++ {
		if est.Sections[i].InputTokens <= est.Sections[i-1].InputTokens {
			t.Errorf("section %d input should grow with rolling context", i+1)
		}
	}
	if est.TotalCost <= 0 {
		t.Error("expected positive total cost")
	}

	out := est.FormatEstimate()
	for _, want := range []string{"gemini-2.5-pro", "Sections: 8", "... and 3 more sections"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted estimate missing %q", want)
		}
	}
}
