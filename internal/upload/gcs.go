package upload

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"dossier/internal/config"
	"dossier/internal/logger"
)

// GCSUploader uploads to a Google Cloud Storage bucket and makes each
// object publicly readable.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

// NewGCSUploader creates a GCS client from a credentials file, or from
// application default credentials when none is configured.
func NewGCSUploader(ctx context.Context, cfg config.GCSConfig) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS bucket is required (set upload.gcs.bucket or GCS_BUCKET)")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSUploader{client: client, bucket: cfg.Bucket}, nil
}

func (u *GCSUploader) Upload(ctx context.Context, localPath, objectPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	obj := u.client.Bucket(u.bucket).Object(objectPath)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType(localPath)

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload of %s: %w", objectPath, err)
	}

	// Buckets with uniform access reject object ACLs; the object is still stored.
	if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
		logger.Warn("Could not make object public", "bucket", u.bucket, "object", objectPath, "error", err.Error())
	}

	publicURL := PublicGCSURL(u.bucket, objectPath)
	logger.Info("Uploaded report", "provider", "gcs", "url", publicURL)
	return publicURL, nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// PublicGCSURL returns the public HTTPS address of an object.
func PublicGCSURL(bucket, objectPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, (&url.URL{Path: objectPath}).EscapedPath())
}
