package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/thread"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// DefaultRedisConfig returns sensible defaults
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "chatstream:transcript:",
		TTL:    7 * 24 * time.Hour,
	}
}

// RedisStore implements Store with one JSON value per conversation.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	defaults := DefaultRedisConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaults.Prefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.Prefix,
		ttl:       cfg.TTL,
	}, nil
}

func (s *RedisStore) prefixKey(conversationID string) string {
	return s.keyPrefix + conversationID
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, conversationID string) ([]thread.Message, error) {
	val, err := s.client.Get(ctx, s.prefixKey(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript %s: %w", conversationID, err)
	}

	var msgs []thread.Message
	if err := json.Unmarshal(val, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode transcript %s: %w", conversationID, err)
	}
	return msgs, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, conversationID string, messages []thread.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode transcript %s: %w", conversationID, err)
	}
	if err := s.client.Set(ctx, s.prefixKey(conversationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save transcript %s: %w", conversationID, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.prefixKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete transcript %s: %w", conversationID, err)
	}
	return nil
}

// List implements Store using SCAN over the key prefix.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcripts: %w", err)
		}
		for _, key := range batch {
			ids = append(ids, strings.TrimPrefix(key, s.keyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
