package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dossier/internal/config"
	"dossier/internal/core"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Load when no history exists for the id.
var ErrNotFound = errors.New("conversation history not found")

// Store persists conversation history keyed by request id. Save replaces any
// earlier history for the id.
type Store interface {
	Save(ctx context.Context, requestID string, records []Record) error
	Load(ctx context.Context, requestID string) ([]Record, error)
	Close() error
}

// FileStore keeps one indented JSON file per request.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the history file location for a request.
func (s *FileStore) Path(requestID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("conversation_%s.json", requestID))
}

// Save writes the history atomically via a temp file and rename.
func (s *FileStore) Save(ctx context.Context, requestID string, records []Record) error {
	if err := core.CheckFileKey(requestID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	path := s.Path(requestID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}

// Load reads the history for a request.
func (s *FileStore) Load(ctx context.Context, requestID string) ([]Record, error) {
	if err := core.CheckFileKey(requestID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(requestID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode history %s: %w", requestID, err)
	}
	return records, nil
}

func (s *FileStore) Close() error { return nil }

// NewStore builds the backend selected in configuration.
func NewStore(ctx context.Context, cfg config.Storage) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.HistoryDir), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return NewRedisStore(client, config.Duration(cfg.Redis.TTL, defaultTTL)), nil
	case "firestore":
		return NewFirestoreStore(ctx, cfg.Firestore.Project, cfg.Firestore.Collection)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

const defaultTTL = 7 * 24 * time.Hour
