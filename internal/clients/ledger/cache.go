package ledger

import (
	"context"
	"encoding/json"
	"time"

	"franchise-license-workers/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// MetadataSource is anything that can read token metadata.
type MetadataSource interface {
	Metadata(ctx context.Context) (*TokenMetadata, error)
}

// CachedMetadata keeps token metadata in Redis. Token decimals never change for a deployed
// ledger, so a long TTL is fine. Redis failures fall back to the ledger.
type CachedMetadata struct {
	source MetadataSource
	rdb    redis.Cmdable
	key    string
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedMetadata(source MetadataSource, rdb redis.Cmdable, key string, ttl time.Duration, log logger.Logger) *CachedMetadata {
	return &CachedMetadata{
		source: source,
		rdb:    rdb,
		key:    key,
		ttl:    ttl,
		logger: log,
	}
}

func (c *CachedMetadata) Metadata(ctx context.Context) (*TokenMetadata, error) {
	cached, err := c.rdb.Get(ctx, c.key).Result()
	switch {
	case err == nil:
		var meta TokenMetadata
		if jsonErr := json.Unmarshal([]byte(cached), &meta); jsonErr == nil {
			return &meta, nil
		}
		c.logger.Warn("discarding corrupt ledger metadata cache entry", map[string]interface{}{"key": c.key})
	case err != redis.Nil:
		c.logger.Warn("ledger metadata cache read failed", map[string]interface{}{"error": err.Error()})
	}

	meta, err := c.source.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(meta); err == nil {
		if err := c.rdb.Set(ctx, c.key, string(data), c.ttl).Err(); err != nil {
			c.logger.Warn("ledger metadata cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return meta, nil
}
