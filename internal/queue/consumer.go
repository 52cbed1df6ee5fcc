package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/project-tktt/offer-collector/internal/domain"
)

// Consumer consumes enriched offers from a Redis list
type Consumer struct {
	client    ListClient
	queueName string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(client ListClient, queueName string, timeout time.Duration, logger *zap.Logger) *Consumer {
	if queueName == "" {
		queueName = DefaultQueue
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Consumer{
		client:    client,
		queueName: queueName,
		timeout:   timeout,
		logger:    logger.Named("queue"),
	}
}

// ConsumeBatch consumes up to maxBatch offers from the queue.
// BRPOP blocks for the first item, RPOP fills the rest without waiting.
// A timeout with nothing queued returns an empty slice.
func (c *Consumer) ConsumeBatch(ctx context.Context, maxBatch int) ([]domain.EnrichedOffer, error) {
	offers := make([]domain.EnrichedOffer, 0, maxBatch)

	result, err := c.client.BRPop(ctx, c.timeout, c.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return offers, nil
		}
		return nil, eris.Wrap(err, "brpop")
	}

	// BRPOP returns [key, value]
	if len(result) >= 2 {
		if offer, ok := c.decode(result[1]); ok {
			offers = append(offers, offer)
		}
	}

	for i := 1; i < maxBatch; i++ {
		raw, err := c.client.RPop(ctx, c.queueName).Result()
		if err != nil {
			if err == redis.Nil {
				break
			}
			return offers, eris.Wrap(err, "rpop")
		}
		if offer, ok := c.decode(raw); ok {
			offers = append(offers, offer)
		}
	}

	return offers, nil
}

func (c *Consumer) decode(raw string) (domain.EnrichedOffer, bool) {
	var offer domain.EnrichedOffer
	if err := json.Unmarshal([]byte(raw), &offer); err != nil {
		c.logger.Warn("skipping malformed queue message", zap.String("queue", c.queueName), zap.Error(err))
		return offer, false
	}
	return offer, true
}
