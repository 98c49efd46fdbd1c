package ai

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// DefaultHistoryWindow is how many recent messages a step sends to the
// provider when the node does not set its own window.
const DefaultHistoryWindow = 10

const defaultHistoryTTL = 24 * time.Hour

// HistoryStore persists conversation history per tenant correspondent.
type HistoryStore interface {
	// Append adds a message to the conversation log.
	Append(ctx context.Context, tenantID, correspondent string, msg Message) error
	// Recent returns up to n most recent messages in chronological order.
	Recent(ctx context.Context, tenantID, correspondent string, n int) ([]Message, error)
	// Clear drops the conversation log.
	Clear(ctx context.Context, tenantID, correspondent string) error
}

// RedisHistoryStore keeps each conversation in a Redis list with a
// sliding TTL, so idle conversations age out on their own.
type RedisHistoryStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHistoryStore connects to Redis at the given URL
// ("redis://host:port/db").
func NewRedisHistoryStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisHistoryStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "invalid redis url").WithCause(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector, "redis ping failed: %v", err).WithCause(err)
	}
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}
	return &RedisHistoryStore{client: client, ttl: ttl}, nil
}

func historyKey(tenantID, correspondent string) string {
	return "conversation:" + tenantID + ":" + correspondent
}

func (s *RedisHistoryStore) Append(ctx context.Context, tenantID, correspondent string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "failed to marshal history message").WithCause(err)
	}
	key := historyKey(tenantID, correspondent)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "failed to append history: %v", err).WithCause(err)
	}
	return nil
}

func (s *RedisHistoryStore) Recent(ctx context.Context, tenantID, correspondent string, n int) ([]Message, error) {
	if n <= 0 {
		n = DefaultHistoryWindow
	}
	raw, err := s.client.LRange(ctx, historyKey(tenantID, correspondent), int64(-n), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "failed to load history: %v", err).WithCause(err)
	}
	messages := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisHistoryStore) Clear(ctx context.Context, tenantID, correspondent string) error {
	return s.client.Del(ctx, historyKey(tenantID, correspondent)).Err()
}

// Close releases the Redis connection.
func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}

// MemoryHistoryStore is an in-process HistoryStore for tests and
// single-node deployments without Redis.
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	messages map[string][]Message
}

// NewMemoryHistoryStore creates an empty in-memory store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{messages: make(map[string][]Message)}
}

func (s *MemoryHistoryStore) Append(ctx context.Context, tenantID, correspondent string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := historyKey(tenantID, correspondent)
	s.messages[key] = append(s.messages[key], msg)
	return nil
}

func (s *MemoryHistoryStore) Recent(ctx context.Context, tenantID, correspondent string, n int) ([]Message, error) {
	if n <= 0 {
		n = DefaultHistoryWindow
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[historyKey(tenantID, correspondent)]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]Message, len(all))
	copy(out, all)
	return out, nil
}

func (s *MemoryHistoryStore) Clear(ctx context.Context, tenantID, correspondent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, historyKey(tenantID, correspondent))
	return nil
}
