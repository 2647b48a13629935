package upload

import (
	"context"
	"fmt"
	"io"
	"os"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"

	"dossier/internal/config"
	"dossier/internal/logger"
)

// objectStore is the part of the Supabase storage client used here.
type objectStore interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
}

// SupabaseUploader uploads to a public Supabase Storage bucket.
type SupabaseUploader struct {
	store  objectStore
	bucket string
}

// NewSupabaseUploader creates a Supabase client for cfg.
func NewSupabaseUploader(cfg config.SupabaseConfig) (*SupabaseUploader, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("supabase bucket is required")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &SupabaseUploader{store: client.Storage, bucket: cfg.Bucket}, nil
}

func (u *SupabaseUploader) Upload(ctx context.Context, localPath, objectPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	ct := contentType(localPath)
	upsert := true
	if _, err := u.store.UploadFile(u.bucket, objectPath, f, storage_go.FileOptions{
		ContentType: &ct,
		Upsert:      &upsert,
	}); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}

	publicURL := u.store.GetPublicUrl(u.bucket, objectPath).SignedURL
	logger.Info("Uploaded report", "provider", "supabase", "url", publicURL)
	return publicURL, nil
}

func (u *SupabaseUploader) Close() error { return nil }
