package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ListClient is the subset of the Redis client used by the offer queue
type ListClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPop(ctx context.Context, key string) *redis.StringCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

const DefaultQueue = "offers:enriched"
