package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dossier/internal/core"
	"dossier/internal/logger"
)

// Document is a finished report ready to be written.
type Document struct {
	Title       string
	Sections    []core.ReportSection
	Orientation core.Orientation
}

// Artifacts lists the files written for a report. PDF is empty when
// rendering failed or was disabled; PDFError holds the cause.
type Artifacts struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	PDF      string `json:"pdf,omitempty"`
	PDFError error  `json:"-"`
}

// Deliverable returns the PDF when one was produced, otherwise the HTML.
func (a *Artifacts) Deliverable() string {
	if a.PDF != "" {
		return a.PDF
	}
	return a.HTML
}

// Writer writes Markdown, HTML and PDF artifacts into a directory.
type Writer struct {
	Dir      string
	TOCDepth int
	PDF      PDFRenderer // nil skips PDF output
	Now      func() time.Time
}

// BaseName builds the artifact file name shared by all formats:
// {timestamp}_{requestId}_{language}.
func BaseName(now time.Time, requestID, language string) string {
	lang := strings.ToLower(strings.Join(strings.Fields(language), "_"))
	if lang == "" {
		lang = "report"
	}
	return fmt.Sprintf("%s_%s_%s", now.Format("20060102_150405"), requestID, lang)
}

// Write assembles doc and writes the artifacts. Only Markdown and HTML
// failures are errors; a PDF failure is recorded in the result.
func (w *Writer) Write(ctx context.Context, base string, doc Document) (*Artifacts, error) {
	log := logger.FromContext(ctx)
	now := time.Now()
	if w.Now != nil {
		now = w.Now()
	}

	dir := w.Dir
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	artifacts := &Artifacts{
		Markdown: filepath.Join(dir, base+".md"),
		HTML:     filepath.Join(dir, base+".html"),
	}

	md := Assemble(doc.Title, doc.Sections)
	if err := os.WriteFile(artifacts.Markdown, []byte(md), 0644); err != nil {
		return nil, fmt.Errorf("failed to write markdown file %s: %w", artifacts.Markdown, err)
	}
	log.Info("Markdown file saved", "path", artifacts.Markdown)

	fragment, err := ToHTML(md, w.TOCDepth)
	if err != nil {
		return nil, err
	}
	page, err := Page(fragment, PageData{Title: doc.Title, Orientation: doc.Orientation}, now)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(artifacts.HTML, []byte(page), 0644); err != nil {
		return nil, fmt.Errorf("failed to write HTML file %s: %w", artifacts.HTML, err)
	}
	log.Info("HTML file saved", "path", artifacts.HTML)

	if w.PDF == nil {
		return artifacts, nil
	}

	pdf, err := w.PDF.Render(ctx, page, doc.Orientation)
	if err == nil {
		path := filepath.Join(dir, base+".pdf")
		if err = os.WriteFile(path, pdf, 0644); err == nil {
			artifacts.PDF = path
			log.Info("PDF file saved", "path", path)
			return artifacts, nil
		}
	}

	artifacts.PDFError = err
	log.Warn("PDF generation failed, HTML remains the deliverable", "html", artifacts.HTML, "error", err.Error())
	return artifacts, nil
}
