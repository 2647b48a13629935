package pipeline

import (
	"errors"
	"regexp"
	"strings"
)

// DefaultReportTitle is used when no title can be recovered from the outline.
const DefaultReportTitle = "Strategic Analysis Report"

// ErrNoSections means the outline could not be generated or parsed at all.
var ErrNoSections = errors.New("no sections found in table of contents")

var (
	romanSectionPattern = regexp.MustCompile(`(?m)^[ \t]*(?:#+[ \t]*)?(?:\*\*)?([IVX]+)\.[ \t]+(.+?)[ \t]*$`)
	bulletPrefix        = regexp.MustCompile(`^(?:[-*+][ \t]+|\d+\)[ \t]+)`)
)

// ParseTableOfContents reads the title and main section titles from the
// extraction response. When the response lacks the SECTIONS: block it falls
// back to scanning for Roman-numeral lines, first in the response and then in
// the raw outline, with the default title. When nothing matches the section
// list is empty.
func ParseTableOfContents(extraction, toc string) (string, []string) {
	if head, tail, ok := strings.Cut(extraction, "SECTIONS:"); ok {
		title := DefaultReportTitle
		for _, line := range strings.Split(head, "\n") {
			line = cleanLine(line)
			if rest, found := strings.CutPrefix(line, "TITLE:"); found {
				if t := cleanLine(rest); t != "" {
					title = t
				}
				break
			}
		}

		var sections []string
		for _, line := range strings.Split(tail, "\n") {
			if s := cleanLine(line); s != "" {
				sections = append(sections, s)
			}
		}
		if len(sections) > 0 {
			return title, sections
		}
	}

	if sections := scanRomanSections(extraction); len(sections) > 0 {
		return DefaultReportTitle, sections
	}
	return DefaultReportTitle, scanRomanSections(toc)
}

func scanRomanSections(text string) []string {
	var sections []string
	for _, m := range romanSectionPattern.FindAllStringSubmatch(text, -1) {
		title := cleanLine(m[2])
		if title == "" {
			continue
		}
		sections = append(sections, m[1]+". "+title)
	}
	return sections
}

func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	line = bulletPrefix.ReplaceAllString(line, "")
	line = strings.Trim(line, "*[] \t")
	return strings.TrimSpace(line)
}

// ShouldPolish reports whether a section goes through the polishing pass.
// The references section and titles containing any skip term
// (case-insensitive) are left untouched.
func ShouldPolish(title string, isReferences bool, skipTerms []string) bool {
	if isReferences {
		return false
	}
	lower := strings.ToLower(title)
	for _, term := range skipTerms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" && strings.Contains(lower, term) {
			return false
		}
	}
	return true
}
