package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/project-tktt/offer-collector/internal/domain"
)

// Store is the subset of the Redis client used by the cache
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// AttributeCache stores validated model output keyed by a hash of the prompt text,
// so a re-run over the same offers does not call the model again
type AttributeCache struct {
	store  Store
	prefix string
	source domain.OfferSource
	ttl    time.Duration
}

// NewAttributeCache creates a Redis-backed attribute cache
func NewAttributeCache(store Store, prefix string, source domain.OfferSource, ttl time.Duration) *AttributeCache {
	if prefix == "" {
		prefix = "attrs"
	}
	if ttl == 0 {
		ttl = 24 * time.Hour * 30 // 30 days default
	}
	return &AttributeCache{
		store:  store,
		prefix: prefix,
		source: source,
		ttl:    ttl,
	}
}

// Get returns the cached attributes for text. A miss is (zero, false, nil).
func (c *AttributeCache) Get(ctx context.Context, text string) (domain.StructuredAttributes, bool, error) {
	raw, err := c.store.Get(ctx, c.makeKey(text)).Result()
	if err == redis.Nil {
		return domain.StructuredAttributes{}, false, nil
	}
	if err != nil {
		return domain.StructuredAttributes{}, false, eris.Wrap(err, "redis get")
	}

	var attrs domain.StructuredAttributes
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		// Treat a corrupt entry as a miss; it is overwritten on the next Set
		return domain.StructuredAttributes{}, false, nil
	}
	if attrs.HardSkills == nil || attrs.SoftSkills == nil || attrs.Domains == nil {
		return domain.StructuredAttributes{}, false, nil
	}
	return attrs, true, nil
}

// Set caches attrs for text with the default TTL
func (c *AttributeCache) Set(ctx context.Context, text string, attrs domain.StructuredAttributes) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return eris.Wrap(err, "marshal attributes")
	}
	if err := c.store.Set(ctx, c.makeKey(text), data, c.ttl).Err(); err != nil {
		return eris.Wrap(err, "redis set")
	}
	return nil
}

func (c *AttributeCache) makeKey(text string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, c.source, hashContent(text))
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:16]) // First 16 bytes (32 hex chars)
}
