// Package render assembles report sections into a Markdown document and
// turns it into HTML and PDF deliverables.
package render

import (
	"fmt"
	"strings"

	"dossier/internal/citations"
	"dossier/internal/core"
)

// TOCMarker is replaced by a generated table of contents in HTML output.
const TOCMarker = "[TOC]"

const sectionSeparator = "\n\n---\n\n"

// Assemble builds the Markdown document: the title, the TOC marker, every
// section in order separated by horizontal rules, then the reference grids
// grouped by section. The grids are appended to a trailing references
// section when there is one, and otherwise get their own "## References"
// heading. Without any reference entries no block is added.
func Assemble(title string, sections []core.ReportSection) string {
	var doc strings.Builder
	doc.WriteString(fmt.Sprintf("# %s\n\n%s\n\n", strings.TrimSpace(title), TOCMarker))

	refs := referencesBlock(sections)

	for i, s := range sections {
		if i > 0 {
			doc.WriteString(sectionSeparator)
		}
		doc.WriteString(strings.TrimSpace(s.Content))

		last := i == len(sections)-1
		if last && refs != "" && citations.IsReferencesTitle(s.Title) {
			doc.WriteString("\n\n")
			doc.WriteString(refs)
			refs = ""
		}
	}

	if refs != "" {
		if len(sections) > 0 {
			doc.WriteString(sectionSeparator)
		}
		doc.WriteString("## References\n\n")
		doc.WriteString(refs)
	}

	doc.WriteString("\n")
	return doc.String()
}

// referencesBlock renders one "#### title" group per section with entries.
func referencesBlock(sections []core.ReportSection) string {
	var b strings.Builder
	for _, s := range sections {
		if len(s.References) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("#### %s\n\n", s.Title))
		b.WriteString(citations.ReferencesHTML(s.References))
	}
	return b.String()
}
