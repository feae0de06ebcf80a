package repo

import (
	"context"
	"fmt"
	"strings"

	"topup-bot/internal/cache"
)

const defaultRedisKey = "topup:document"

// RedisBackend keeps the document as one JSON value in Redis.
type RedisBackend struct {
	redis *cache.Redis
	key   string
}

// NewRedisBackend stores the document under key (default "topup:document").
func NewRedisBackend(redis *cache.Redis, key string) *RedisBackend {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisBackend{redis: redis, key: key}
}

func (b *RedisBackend) Name() string { return "redis" }

// Load reads the document; a missing key yields an empty document.
func (b *RedisBackend) Load(ctx context.Context) (*Document, error) {
	doc := NewDocument()
	if _, err := b.redis.GetJSON(ctx, b.key, doc); err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	doc.normalize()
	return doc, nil
}

// Save replaces the document value.
func (b *RedisBackend) Save(ctx context.Context, doc *Document) error {
	if err := b.redis.PutJSON(ctx, b.key, doc); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.redis.Close()
}
