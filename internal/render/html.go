package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// DefaultTOCDepth is the deepest heading level listed in the table of contents.
const DefaultTOCDepth = 3

// ToHTML converts the assembled Markdown to an HTML fragment. Raw HTML such
// as citation anchors passes through. The TOC marker paragraph becomes a
// nested list of headings down to depth, and every level-2 heading is
// preceded by a section-break div.
func ToHTML(md string, depth int) (string, error) {
	if depth <= 0 {
		depth = DefaultTOCDepth
	}

	// MathJax would swallow currency amounts written with dollar signs.
	extensions := (parser.CommonExtensions &^ parser.MathJax) | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	body := markdown.ToHTML([]byte(md), mdParser, renderer)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("failed to parse generated HTML: %w", err)
	}

	doc.Find("h2").BeforeHtml(`<div class="section-break"></div>`)

	toc := tableOfContents(doc, depth)
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) == TOCMarker {
			s.ReplaceWithHtml(toc)
			return false
		}
		return true
	})

	out, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("failed to serialize HTML: %w", err)
	}
	return out, nil
}

type tocEntry struct {
	level int
	id    string
	text  string
}

func tableOfContents(doc *goquery.Document, depth int) string {
	selectors := make([]string, 0, depth)
	for level := 1; level <= depth && level <= 6; level++ {
		selectors = append(selectors, fmt.Sprintf("h%d", level))
	}

	var entries []tocEntry
	doc.Find(strings.Join(selectors, ", ")).Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("id")
		if !ok || id == "" {
			return
		}
		level := int(goquery.NodeName(s)[1] - '0')
		entries = append(entries, tocEntry{level: level, id: id, text: strings.TrimSpace(s.Text())})
	})

	var b strings.Builder
	b.WriteString(`<div class="toc">` + "\n" + `<span class="toctitle">Table of Contents</span>` + "\n")

	var open []int
	for _, e := range entries {
		if len(open) == 0 || e.level > open[len(open)-1] {
			b.WriteString("<ul>\n")
			open = append(open, e.level)
		} else {
			for len(open) > 1 && e.level < open[len(open)-1] {
				b.WriteString("</li>\n</ul>\n")
				open = open[:len(open)-1]
			}
			b.WriteString("</li>\n")
		}
		fmt.Fprintf(&b, `<li><a href="#%s">%s</a>`, html.EscapeString(e.id), html.EscapeString(e.text))
	}
	for range open {
		b.WriteString("</li>\n</ul>\n")
	}

	b.WriteString("</div>")
	return b.String()
}
