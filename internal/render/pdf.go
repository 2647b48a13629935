package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/SebastiaanKlippert/go-wkhtmltopdf"

	"dossier/internal/core"
)

// PDFRenderer converts a complete HTML page to PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, page string, orientation core.Orientation) ([]byte, error)
}

// pageMarginMM is applied on all four sides.
const pageMarginMM = 25

// WKHTMLRenderer renders PDFs with the wkhtmltopdf binary.
type WKHTMLRenderer struct {
	// Binary overrides the wkhtmltopdf lookup on PATH.
	Binary string
}

// NewWKHTMLRenderer creates a renderer using binary, or PATH when empty.
// The wkhtmltopdf path is process-global, so it is set here once and never
// from Render.
func NewWKHTMLRenderer(binary string) *WKHTMLRenderer {
	if binary != "" {
		wkhtmltopdf.SetPath(binary)
	}
	return &WKHTMLRenderer{Binary: binary}
}

func (r *WKHTMLRenderer) Render(ctx context.Context, page string, orientation core.Orientation) ([]byte, error) {
	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return nil, fmt.Errorf("wkhtmltopdf not available: %w", err)
	}

	pdfg.PageSize.Set(wkhtmltopdf.PageSizeA4)
	if ResolveOrientation(orientation) == core.OrientationPortrait {
		pdfg.Orientation.Set(wkhtmltopdf.OrientationPortrait)
	} else {
		pdfg.Orientation.Set(wkhtmltopdf.OrientationLandscape)
	}
	pdfg.MarginTop.Set(pageMarginMM)
	pdfg.MarginRight.Set(pageMarginMM)
	pdfg.MarginBottom.Set(pageMarginMM)
	pdfg.MarginLeft.Set(pageMarginMM)
	pdfg.NoOutline.Set(true)

	p := wkhtmltopdf.NewPageReader(strings.NewReader(page))
	p.EnableLocalFileAccess.Set(true)
	pdfg.AddPage(p)

	if err := pdfg.CreateContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}
	return pdfg.Bytes(), nil
}
