package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const historyKeyPrefix = "conversation:"

// RedisStore keeps history as a JSON value with a TTL that is refreshed on every write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, requestID string, records []Record) error {
	val, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := s.client.Set(ctx, s.key(requestID), val, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis save %s: %w", requestID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, requestID string) ([]Record, error) {
	val, err := s.client.Get(ctx, s.key(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", requestID, err)
	}

	var records []Record
	if err := json.Unmarshal(val, &records); err != nil {
		return nil, fmt.Errorf("failed to decode history %s: %w", requestID, err)
	}
	return records, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return historyKeyPrefix + id
}
