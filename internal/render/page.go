package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"dossier/internal/core"
	"dossier/internal/logger"
)

//go:embed templates/*.html
var templateFiles embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFiles, "templates/*.html"))

// PageData is the input of a page template.
type PageData struct {
	Title       string
	Date        string
	Orientation core.Orientation
	Content     template.HTML
}

// ResolveOrientation maps a configured orientation to a supported one.
// Anything unknown falls back to landscape.
func ResolveOrientation(o core.Orientation) core.Orientation {
	switch o {
	case core.OrientationPortrait:
		return core.OrientationPortrait
	case core.OrientationLandscape, "":
		return core.OrientationLandscape
	default:
		logger.Warn("Unknown orientation, using landscape", "orientation", string(o))
		return core.OrientationLandscape
	}
}

// Page wraps an HTML fragment in the full page template for the orientation.
func Page(content string, data PageData, now time.Time) (string, error) {
	data.Orientation = ResolveOrientation(data.Orientation)
	data.Content = template.HTML(content)
	if data.Date == "" {
		data.Date = now.Format("January 2, 2006")
	}

	var buf bytes.Buffer
	name := fmt.Sprintf("%s.html", data.Orientation)
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}
