package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements SnapshotStore on Redis, for sessions that
// should survive the local filesystem. Keys follow the same
// {tag}{unix-millis} identity as the file store.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection settings for the snapshot store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for snapshot keys (default: "chatloop:snapshot:").
	Prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
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
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client. Useful for testing
// with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "chatloop:snapshot:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// SaveSnapshot stores the conversation under a new timestamped key.
// Every (tag, timestamp) pair is a distinct key; nothing is ever
// overwritten, so same-millisecond saves bump the timestamp.
func (s *RedisStore) SaveSnapshot(ctx context.Context, conv *Conversation, tag Tag) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	millis := time.Now().UnixMilli()
	for {
		key := s.prefix + string(tag) + strconv.FormatInt(millis, 10)
		ok, err := s.client.SetNX(ctx, key, data, 0).Result()
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		if ok {
			return nil
		}
		millis++
	}
}

// LoadLatest finds the ordinary snapshot with the highest embedded
// timestamp. Any failure falls back to a fresh conversation.
func (s *RedisStore) LoadLatest(ctx context.Context, systemPrompt string) *Conversation {
	pattern := s.prefix + string(TagOrdinary) + "*"
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return New(systemPrompt)
	}

	var newest string
	var newestMillis int64 = -1
	for _, key := range keys {
		raw := strings.TrimPrefix(key, s.prefix+string(TagOrdinary))
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if millis > newestMillis {
			newestMillis = millis
			newest = key
		}
	}
	if newest == "" {
		return New(systemPrompt)
	}

	data, err := s.client.Get(ctx, newest).Bytes()
	if err != nil {
		log.Printf("read snapshot %s: %v", newest, err)
		return New(systemPrompt)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		log.Printf("parse snapshot %s: %v", newest, err)
		return New(systemPrompt)
	}

	conv.ForceSystemPrompt(systemPrompt)
	return &conv
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
