package core

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Orientation selects the page layout used for HTML and PDF output.
type Orientation string

const (
	OrientationLandscape Orientation = "landscape"
	OrientationPortrait  Orientation = "portrait"
)

// Message is one turn of the rolling generation context.
type Message struct {
	Role Role   `json:"role"` // user or model
	Text string `json:"text"` // Turn text as sent to / received from the model
}

// ReportSection is one generated section of a report.
type ReportSection struct {
	Title      string           `json:"title"`                // Section title as extracted from the TOC
	Content    string           `json:"content"`              // Markdown body, starting with a level-2 heading
	References []ReferenceEntry `json:"references,omitempty"` // Grounding references cited by markers in Content
	Failed     bool             `json:"failed,omitempty"`     // Content is an error placeholder
}

// ReferenceEntry is a single grounding source cited inside a section.
type ReferenceEntry struct {
	SectionIndex int    `json:"section_index"`           // 1-based section number
	LocalIndex   int    `json:"local_index"`             // 1-based position in the section's source list
	DisplayLabel string `json:"display_label"`           // "{section}.{local}"
	SourceURI    string `json:"source_uri,omitempty"`    // Source URL, empty when the source carried no metadata
	SourceDomain string `json:"source_domain,omitempty"` // Display domain or placeholder text
}

// AnchorID returns the HTML id the citation markers link to.
func (r ReferenceEntry) AnchorID() string {
	return fmt.Sprintf("ref-section-%d-%d", r.SectionIndex, r.LocalIndex)
}

// GroundingSegment links a span of generated text to source indices.
type GroundingSegment struct {
	Text          string // Literal text span in the generated output
	SourceIndices []int  // 0-based indices into Grounding.Sources
}

// GroundingSource is a retrieved web source.
type GroundingSource struct {
	URI    string
	Domain string
	Title  string
}

// Grounding is the search-grounding metadata returned alongside generated text.
type Grounding struct {
	Segments []GroundingSegment
	Sources  []GroundingSource
}

// Empty reports whether there is nothing to cite.
func (g *Grounding) Empty() bool {
	return g == nil || len(g.Segments) == 0 || len(g.Sources) == 0
}

// ToneProfile describes the writing style of a report.
type ToneProfile struct {
	Tone      string   `json:"tone" yaml:"tone" mapstructure:"tone"`
	Formality string   `json:"formality" yaml:"formality" mapstructure:"formality"`
	Emphasis  []string `json:"emphasis" yaml:"emphasis" mapstructure:"emphasis"`
}

// ReportConfig holds everything that steers prompt construction and rendering for one run.
// It is read-only once a run has started.
type ReportConfig struct {
	Language              string      `json:"language" yaml:"language" mapstructure:"language"`
	PrimaryEntity         string      `json:"primary_entity" yaml:"primary_entity" mapstructure:"primary_entity"`
	ComparisonEntities    []string    `json:"comparison_entities" yaml:"comparison_entities" mapstructure:"comparison_entities"`
	TopicDomain           string      `json:"topic_domain" yaml:"topic_domain" mapstructure:"topic_domain"`
	TargetAudience        []string    `json:"target_audience" yaml:"target_audience" mapstructure:"target_audience"`
	AnalysisFocusAreas    []string    `json:"analysis_focus_areas" yaml:"analysis_focus_areas" mapstructure:"analysis_focus_areas"`
	SectionGuidance       []string    `json:"section_guidance" yaml:"section_guidance" mapstructure:"section_guidance"`
	StrictStructure       bool        `json:"strict_structure" yaml:"strict_structure" mapstructure:"strict_structure"`
	Tone                  ToneProfile `json:"tone_profile" yaml:"tone_profile" mapstructure:"tone_profile"`
	ModelID               string      `json:"model_id" yaml:"model_id" mapstructure:"model_id"`
	FastModelID           string      `json:"fast_model_id" yaml:"fast_model_id" mapstructure:"fast_model_id"`
	MaxRetries            int         `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelaySeconds float64     `json:"retry_base_delay_seconds" yaml:"retry_base_delay_seconds" mapstructure:"retry_base_delay_seconds"`
	Temperature           float32     `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	Orientation           Orientation `json:"orientation" yaml:"orientation" mapstructure:"orientation"`
	PolishSkipTerms       []string    `json:"polish_skip_terms" yaml:"polish_skip_terms" mapstructure:"polish_skip_terms"`
	Upload                bool        `json:"upload" yaml:"upload" mapstructure:"upload"`
}

// DefaultPolishSkipTerms lists title fragments whose sections are never polished.
var DefaultPolishSkipTerms = []string{"appendix", "appendices", "references", "bibliography"}

// WithDefaults fills unset fields from fallback and returns the merged copy.
func (c ReportConfig) WithDefaults(fallback ReportConfig) ReportConfig {
	out := c
	if out.Language == "" {
		out.Language = fallback.Language
	}
	if out.PrimaryEntity == "" {
		out.PrimaryEntity = fallback.PrimaryEntity
	}
	if len(out.ComparisonEntities) == 0 {
		out.ComparisonEntities = fallback.ComparisonEntities
	}
	if out.TopicDomain == "" {
		out.TopicDomain = fallback.TopicDomain
	}
	if len(out.TargetAudience) == 0 {
		out.TargetAudience = fallback.TargetAudience
	}
	if len(out.AnalysisFocusAreas) == 0 {
		out.AnalysisFocusAreas = fallback.AnalysisFocusAreas
	}
	if len(out.SectionGuidance) == 0 {
		out.SectionGuidance = fallback.SectionGuidance
	}
	if out.Tone.Tone == "" {
		out.Tone.Tone = fallback.Tone.Tone
	}
	if out.Tone.Formality == "" {
		out.Tone.Formality = fallback.Tone.Formality
	}
	if len(out.Tone.Emphasis) == 0 {
		out.Tone.Emphasis = fallback.Tone.Emphasis
	}
	if out.ModelID == "" {
		out.ModelID = fallback.ModelID
	}
	if out.FastModelID == "" {
		out.FastModelID = fallback.FastModelID
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = fallback.MaxRetries
	}
	if out.RetryBaseDelaySeconds == 0 {
		out.RetryBaseDelaySeconds = fallback.RetryBaseDelaySeconds
	}
	if out.Temperature == 0 {
		out.Temperature = fallback.Temperature
	}
	if out.Orientation == "" {
		out.Orientation = fallback.Orientation
	}
	if len(out.PolishSkipTerms) == 0 {
		out.PolishSkipTerms = fallback.PolishSkipTerms
	}
	if len(out.PolishSkipTerms) == 0 {
		out.PolishSkipTerms = DefaultPolishSkipTerms
	}
	out.Upload = out.Upload || fallback.Upload
	return out
}

// Validate reports configuration problems that would make a run meaningless.
func (c ReportConfig) Validate() error {
	var problems []string
	if strings.TrimSpace(c.PrimaryEntity) == "" {
		problems = append(problems, "primary_entity is required")
	}
	if strings.TrimSpace(c.Language) == "" {
		problems = append(problems, "language is required")
	}
	if c.ModelID == "" {
		problems = append(problems, "model_id is required")
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "max_retries must not be negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		problems = append(problems, fmt.Sprintf("temperature %.2f out of range [0,2]", c.Temperature))
	}
	switch c.Orientation {
	case "", OrientationLandscape, OrientationPortrait:
	default:
		problems = append(problems, fmt.Sprintf("unknown orientation %q", c.Orientation))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid report config:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// FastModel returns the model used for extraction and polishing.
func (c ReportConfig) FastModel() string {
	if c.FastModelID != "" {
		return c.FastModelID
	}
	return c.ModelID
}

// RetryBaseDelay converts RetryBaseDelaySeconds to a duration.
func (c ReportConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySeconds * float64(time.Second))
}

// LoadReportConfig reads a YAML request file.
func LoadReportConfig(path string) (ReportConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ReportConfig{}, fmt.Errorf("failed to read request file %s: %w", path, err)
	}
	var cfg ReportConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return ReportConfig{}, fmt.Errorf("failed to parse request file %s: %w", path, err)
	}
	return cfg, nil
}

// RequestContext identifies one report generation run.
type RequestContext struct {
	RequestID   string       `json:"request_id"`             // Join key for history, metrics and status logs
	Config      ReportConfig `json:"config"`                 // Effective configuration for the run
	StartTime   time.Time    `json:"start_time"`             // When the run started
	ResumedFrom string       `json:"resumed_from,omitempty"` // Request id whose history seeded this run
}

// ErrInvalidRequestID is returned for request ids that were not issued by
// this service or cannot be used as part of a file name.
var ErrInvalidRequestID = errors.New("invalid request id")

var requestIDPattern = regexp.MustCompile(`^\d{8}_[0-9a-f]{8}$`)

// ValidRequestID reports whether id has the issued YYYYMMDD_xxxxxxxx shape.
func ValidRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}

// CheckFileKey rejects ids that would leave their directory when embedded
// in a file name.
func CheckFileKey(id string) error {
	if id == "" || id == "." || strings.Contains(id, "..") || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidRequestID, id)
	}
	return nil
}
