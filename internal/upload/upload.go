// Package upload publishes finished report artifacts to blob storage.
package upload

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"dossier/internal/config"
)

// Uploader stores a local file under objectPath and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, localPath, objectPath string) (string, error)
	Close() error
}

// ObjectPath scopes a file name by report language: "{language}/{file}".
func ObjectPath(language, localPath string) string {
	lang := strings.ToLower(strings.Join(strings.Fields(language), "_"))
	if lang == "" {
		lang = "default"
	}
	return path.Join(lang, filepath.Base(localPath))
}

// New creates the uploader selected by cfg.Provider.
func New(ctx context.Context, cfg config.Upload) (Uploader, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gcs":
		return NewGCSUploader(ctx, cfg.GCS)
	case "supabase":
		return NewSupabaseUploader(cfg.Supabase)
	default:
		return nil, fmt.Errorf("unknown upload provider: %s", cfg.Provider)
	}
}

func contentType(localPath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}
