// Package citations turns search-grounding metadata into inline citation
// markers and per-section reference lists.
package citations

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"dossier/internal/core"
)

// NoMetadata is shown for a source that came back without a URI.
const NoMetadata = "no metadata available"

// Rewrite inserts a superscript marker after the first occurrence of every
// grounded segment and returns the reference entries those markers point to.
// Longer segments are placed first so a short span does not claim the
// location of a longer one that contains it. Segments are matched without
// surrounding whitespace and never inside an inserted marker; segments that
// cannot be found verbatim are skipped. Text without usable grounding is returned unchanged.
func Rewrite(text string, sectionNumber int, g *core.Grounding) (string, []core.ReferenceEntry) {
	if g.Empty() {
		return text, nil
	}

	segments := make([]core.GroundingSegment, len(g.Segments))
	copy(segments, g.Segments)
	sort.SliceStable(segments, func(i, j int) bool {
		return len(strings.TrimSpace(segments[i].Text)) > len(strings.TrimSpace(segments[j].Text))
	})

	cited := make(map[int]bool)
	out := text
	var inserted []span
	for _, seg := range segments {
		segText := strings.TrimSpace(seg.Text)
		if segText == "" {
			continue
		}
		indices := validIndices(seg.SourceIndices, len(g.Sources))
		if len(indices) == 0 {
			continue
		}
		pos := indexOutside(out, segText, inserted)
		if pos < 0 {
			continue
		}

		var markers strings.Builder
		for _, idx := range indices {
			markers.WriteString(Marker(sectionNumber, idx+1))
			cited[idx] = true
		}
		end := pos + len(segText)
		out = out[:end] + markers.String() + out[end:]
		for i := range inserted {
			if inserted[i].start >= end {
				inserted[i].start += markers.Len()
				inserted[i].end += markers.Len()
			}
		}
		inserted = append(inserted, span{start: end, end: end + markers.Len()})
	}

	var refs []core.ReferenceEntry
	for i, src := range g.Sources {
		if !cited[i] {
			continue
		}
		refs = append(refs, core.ReferenceEntry{
			SectionIndex: sectionNumber,
			LocalIndex:   i + 1,
			DisplayLabel: fmt.Sprintf("%d.%d", sectionNumber, i+1),
			SourceURI:    src.URI,
			SourceDomain: displayDomain(src),
		})
	}
	return out, refs
}

// Marker renders the inline citation for one source.
func Marker(sectionNumber, localIndex int) string {
	return fmt.Sprintf(`<sup><a href="#ref-section-%d-%d">[%d.%d]</a></sup>`,
		sectionNumber, localIndex, sectionNumber, localIndex)
}

func validIndices(indices []int, n int) []int {
	seen := make(map[int]bool, len(indices))
	out := make([]int, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

func displayDomain(src core.GroundingSource) string {
	if src.URI == "" {
		return NoMetadata
	}
	if src.Domain != "" {
		return src.Domain
	}
	if host := hostOf(src.URI); host != "" {
		return host
	}
	return src.URI
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

var labelPattern = regexp.MustCompile(`\[(\d+(?:\.\d+)?)\]`)

// ExtractLabels returns the distinct bracketed citation labels in content,
// such as "3" or "2.4", ordered numerically.
func ExtractLabels(content string) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, m := range labelPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			labels = append(labels, m[1])
		}
	}
	sort.Slice(labels, func(i, j int) bool {
		ai, aj := splitLabel(labels[i])
		bi, bj := splitLabel(labels[j])
		if ai != bi {
			return ai < bi
		}
		return aj < bj
	})
	return labels
}

// span is a byte range of inserted marker markup.
type span struct{ start, end int }

// indexOutside returns the first occurrence of substr in s that does not
// overlap an inserted marker, or -1.
func indexOutside(s, substr string, inserted []span) int {
	from := 0
	for from <= len(s) {
		i := strings.Index(s[from:], substr)
		if i < 0 {
			return -1
		}
		pos := from + i
		overlaps := false
		for _, sp := range inserted {
			if pos < sp.end && pos+len(substr) > sp.start {
				overlaps = true
				break
			}
		}
		if !overlaps {
			return pos
		}
		from = pos + 1
	}
	return -1
}

func splitLabel(label string) (int, int) {
	major, minor, _ := strings.Cut(label, ".")
	a, _ := strconv.Atoi(major)
	b, _ := strconv.Atoi(minor)
	return a, b
}

// ReferencesHTML renders a section's reference grid. Anchor ids match the
// hrefs produced by Marker.
func ReferencesHTML(entries []core.ReferenceEntry) string {
	if len(entries) == 0 {
		return "<p>No web metadata available.</p>"
	}

	var b strings.Builder
	b.WriteString("<div class='references-grid'>\n")
	for _, e := range entries {
		fmt.Fprintf(&b, `<div class="reference-item" id="%s">%d. `, e.AnchorID(), e.LocalIndex)
		if e.SourceURI != "" {
			fmt.Fprintf(&b, `<a href="%s" target="_blank">%s</a>`,
				html.EscapeString(e.SourceURI), html.EscapeString(e.SourceDomain))
		} else {
			b.WriteString(html.EscapeString(NoMetadata))
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>")
	return b.String()
}

var referencesTerms = []string{"reference", "bibliograph", "works cited", "sources cited"}

// IsReferencesTitle reports whether a section title names a bibliography.
func IsReferencesTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, term := range referencesTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
