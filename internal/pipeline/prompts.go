package pipeline

import (
	"fmt"
	"strings"

	"dossier/internal/core"
)

// Fixed phrases that identify each prompt kind. The dry-run generator keys
// off them.
const (
	tocPromptLead        = "Create a professional, concise Table of Contents"
	extractionPromptLead = "Given the Table of Contents"
	sectionPromptLead    = "Write a comprehensive and professionally worded section"
	referencesPromptLead = "Generate a comprehensive References section"
	polishPromptLead     = "You are a professional editor."
	polishContentMarker  = "Content to improve:\n"
)

const extractionSystemInstruction = "You are a helpful assistant that extracts titles and section names from table of contents."

// BuildSystemInstruction renders the analyst persona shared by every
// report-writing call.
func BuildSystemInstruction(cfg core.ReportConfig) string {
	var prompt strings.Builder

	audience := joinOr(cfg.TargetAudience, "executive leadership")
	topic := orDefault(cfg.TopicDomain, "products and market position")

	prompt.WriteString(fmt.Sprintf("You are a senior research analyst and business writer in the executive strategy office of %s. ", cfg.PrimaryEntity))
	prompt.WriteString(fmt.Sprintf("Your task is to produce a highly professional, %s-ready report in fluent, professional %s ", audience, cfg.Language))
	prompt.WriteString(fmt.Sprintf("that offers deep comparative analysis of %s between %s", topic, cfg.PrimaryEntity))
	if len(cfg.ComparisonEntities) > 0 {
		prompt.WriteString(fmt.Sprintf(" and %s", strings.Join(cfg.ComparisonEntities, ", ")))
	} else {
		prompt.WriteString(" and its major competitors")
	}
	prompt.WriteString(", based on the latest data available at the time of the report.\n\n")

	prompt.WriteString(fmt.Sprintf("Your audience includes %s of %s. ", audience, cfg.PrimaryEntity))
	if len(cfg.Tone.Emphasis) > 0 {
		prompt.WriteString(fmt.Sprintf("All reports must meet the highest standards of %s. ", strings.Join(cfg.Tone.Emphasis, ", ")))
	}
	prompt.WriteString(fmt.Sprintf("The writing must adopt a %s tone with %s formality, while maintaining a smooth narrative flow with well-connected paragraphs and transitions.\n\n",
		orDefault(cfg.Tone.Tone, "analytical"), orDefault(cfg.Tone.Formality, "high")))

	prompt.WriteString(`Requirements:
1. Every factual statement, statistic, or data point must be supported by a credible source.
2. Cite market statistics, product features, pricing, customer data, industry trends, competitor information, regulatory requirements and historical performance.
3. Citation format:
   - Use square brackets with numbers: [1], [2], [3]
   - Place citations at the end of the relevant sentence, before punctuation
   - Group related citations together and avoid excessive citations in a single sentence
4. Source requirements:
   - Use only credible sources, preferring official documents, regulatory filings and industry reports
   - Ensure sources are recent and relevant
`)

	if cfg.StrictStructure {
		prompt.WriteString("5. Follow the requested section structure exactly. Do not add, merge, or reorder main sections.\n")
	}

	prompt.WriteString("\nKey aspects to focus on:\n")
	for _, focus := range cfg.AnalysisFocusAreas {
		prompt.WriteString(fmt.Sprintf("- %s\n", focus))
	}
	prompt.WriteString(fmt.Sprintf("- Cultural and linguistic appropriateness for a %s-speaking audience.\n", cfg.Language))

	return prompt.String()
}

// BuildTOCPrompt asks for the report outline. The full report configuration is
// embedded so the outline reflects entities, audience and guidance.
func BuildTOCPrompt(cfg core.ReportConfig) string {
	var prompt strings.Builder

	prompt.WriteString(tocPromptLead)
	prompt.WriteString(" for a strategic report titled with a creative and fitting name.\n")

	subject := cfg.PrimaryEntity
	if len(cfg.ComparisonEntities) > 0 {
		subject += ", " + strings.Join(cfg.ComparisonEntities, ", ")
	}
	prompt.WriteString(fmt.Sprintf("The report compares %s from %s, and is intended for %s at %s.\n\n",
		orDefault(cfg.TopicDomain, "products and market position"), subject,
		joinOr(cfg.TargetAudience, "executive leadership"), cfg.PrimaryEntity))

	prompt.WriteString("The Table of Contents should follow a narrative structure, suitable for a business magazine or investor presentation, ")
	prompt.WriteString("and use Roman numerals for main sections (I., II., III.) with clearly indented subsections.\n\n")

	if len(cfg.SectionGuidance) > 0 {
		if cfg.StrictStructure {
			prompt.WriteString("Use exactly the following main sections, in this order:\n")
		} else {
			prompt.WriteString("Use the following sections as a guide to create a comprehensive table of contents, adapting as needed:\n")
		}
		for _, section := range cfg.SectionGuidance {
			prompt.WriteString(fmt.Sprintf("- %s\n", section))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("Make sure the references are always included as the last section of the table of contents.\n")
	prompt.WriteString("Ensure the Table of Contents is logically organized, reader-friendly, and appropriate for executive-level decision-making. ")
	prompt.WriteString("Put the report title on the first line. Do not add any introductory phrases or explanations to your response.\n")
	prompt.WriteString(fmt.Sprintf("Ensure cultural and linguistic appropriateness for a %s-speaking audience.\n", cfg.Language))

	return prompt.String()
}

// BuildExtractionPrompt reduces a free-form outline to the strict
// TITLE:/SECTIONS: format understood by ParseTableOfContents.
func BuildExtractionPrompt(language, toc string) string {
	return fmt.Sprintf(`%s in %s below, extract:
1. The main report title (first line)
2. All main sections marked with Roman numerals (e.g., I., II., III.)

Return in this format:
TITLE: [Report Title]
SECTIONS:
[Section 1]
[Section 2]
[Section 3]

Input:
%s`, extractionPromptLead, language, toc)
}

// BuildSectionPrompt asks for one section. previous holds the sections already
// written; only the last few are summarized to bound prompt growth.
func BuildSectionPrompt(cfg core.ReportConfig, title string, previous []core.ReportSection, contextSections, excerptChars int) string {
	var prompt strings.Builder

	if recent := recentSections(previous, contextSections); len(recent) > 0 {
		prompt.WriteString("Previous sections context:\n")
		for _, s := range recent {
			prompt.WriteString(fmt.Sprintf("- %s: %s\n", s.Title, excerpt(s.Content, excerptChars)))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString(fmt.Sprintf("%s of our strategic report on the topic: **%s**. ", sectionPromptLead, title))
	prompt.WriteString(fmt.Sprintf("The content should be tailored for %s's executive audience (%s).\n\n",
		cfg.PrimaryEntity, joinOr(cfg.TargetAudience, "executive leadership")))

	prompt.WriteString(fmt.Sprintf(`Writing Style Requirements:
1. Use a flowing, narrative style with well-connected paragraphs and transition phrases
2. Incorporate strategic insights and actionable recommendations
3. Use data and analysis to support key points
4. Ensure cultural and linguistic appropriateness for %s

Content Structure:
1. Open with an introduction that sets the context and highlights the importance of the topic
2. Develop the core arguments through logically ordered paragraphs under clear subheadings
3. Incorporate quantitative data or market evidence where applicable
4. End with clear implications and next steps

Data Presentation:
1. Use markdown tables for structured comparisons and detailed metrics:
   | Header 1 | Header 2 | Header 3 |
   |----------|----------|----------|
   | Data 1   | Data 2   | Data 3   |
2. Introduce or explain every table in the surrounding text

Formatting Guidelines:
1. Use markdown heading levels: ## for the section, ### for subsections, #### for sub-subsections
2. Add one blank line before and after each heading
3. Start with a heading that matches the table of contents, for example: ## I. Section Title

Content Requirements:
1. Back all factual claims and statistics with numbered citations
2. Do not use HTML tags or custom styles
3. Do not use excessive blank lines
4. Do not add any introductory phrases, notes, or unrelated explanations to your response
`, cfg.Language))

	return prompt.String()
}

// BuildReferencesPrompt asks for a bibliography covering the citation labels
// found in earlier sections.
func BuildReferencesPrompt(cfg core.ReportConfig, title string, labels []string) string {
	return fmt.Sprintf(`You are a research analyst at %s. %s titled "%s" for the report based on the following citation numbers: %s.

Format Requirements:
1. Start with the heading: ## %s
2. Present each reference as a numbered list item starting with its citation number
3. Format example:
   1. Author(s) or organization name. (Year). Title of the source. Source type. URL or publication details.

Content Requirements:
- Include author or organization, publication year, full title, source type and URL or publication details
- Ensure all references are from credible sources relevant to the analysis
- Format should be appropriate for a %s-speaking audience

Do not include introductory phrases, explanations, or commentary. Return only the heading and the numbered list.`,
		cfg.PrimaryEntity, referencesPromptLead, title, strings.Join(labels, ", "), title, cfg.Language)
}

// BuildPolishPrompt asks for a flow-only edit that keeps facts, citation
// markers and layout intact.
func BuildPolishPrompt(content string) string {
	return fmt.Sprintf(`%s Your task is to improve the following content by enhancing its narrative flow and transitions while maintaining its original language and cultural context. Return ONLY the improved content without any introductory phrases or explanations.

Requirements:
- Make sentences flow more smoothly and improve transitions between paragraphs
- Preserve all key information, analysis, specialized terms and data unchanged
- Keep every citation marker and HTML anchor exactly as written
- Do not change the layout: keep headings, tables, line breaks and paragraph breaks
- Do not add any introductory phrases or explanations to your response

%s%s`, polishPromptLead, polishContentMarker, content)
}

// recentSections returns the last n sections that did not fail.
func recentSections(sections []core.ReportSection, n int) []core.ReportSection {
	var ok []core.ReportSection
	for _, s := range sections {
		if !s.Failed {
			ok = append(ok, s)
		}
	}
	if n <= 0 || len(ok) == 0 {
		return nil
	}
	if len(ok) > n {
		return ok[len(ok)-n:]
	}
	return ok
}

// excerpt returns the first maxChars runes of content with an ellipsis.
func excerpt(content string, maxChars int) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if maxChars <= 0 || len(runes) <= maxChars {
		return content
	}
	return string(runes[:maxChars]) + "..."
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
