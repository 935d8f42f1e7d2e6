// Package covercache memoizes extracted book covers in Redis, keyed by book
// id. Negative results are cached as well so books without a cover are not
// re-read on every listing.
package covercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pocketbook/pkg/epub"
)

const defaultPrefix = "cover:"

// RedisCache stores covers as small JSON documents.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type entry struct {
	Found    bool   `json:"found"`
	MimeType string `json:"mimeType,omitempty"`
	Base64   string `json:"base64,omitempty"`
}

// New builds a cache. A zero ttl keeps entries until evicted or invalidated.
func New(client *redis.Client, prefix string, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("covercache: redis client is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Get returns the cached cover for bookID; ok is false on a miss.
func (c *RedisCache) Get(ctx context.Context, bookID string) (epub.Cover, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+bookID).Bytes()
	if errors.Is(err, redis.Nil) {
		return epub.Cover{}, false, nil
	}
	if err != nil {
		return epub.Cover{}, false, fmt.Errorf("covercache: get: %w", err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Treat undecodable entries as a miss; the next Set overwrites them.
		return epub.Cover{}, false, nil
	}
	return epub.Cover{Found: e.Found, MimeType: e.MimeType, Base64: e.Base64}, true, nil
}

// Set stores cover for bookID.
func (c *RedisCache) Set(ctx context.Context, bookID string, cover epub.Cover) error {
	raw, err := json.Marshal(entry{Found: cover.Found, MimeType: cover.MimeType, Base64: cover.Base64})
	if err != nil {
		return fmt.Errorf("covercache: encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+bookID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("covercache: set: %w", err)
	}
	return nil
}

// Invalidate drops the entry for bookID.
func (c *RedisCache) Invalidate(ctx context.Context, bookID string) error {
	if err := c.client.Del(ctx, c.prefix+bookID).Err(); err != nil {
		return fmt.Errorf("covercache: invalidate: %w", err)
	}
	return nil
}
