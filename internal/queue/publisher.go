package queue

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/project-tktt/offer-collector/internal/domain"
)

// Publisher pushes enriched offers to a Redis list
type Publisher struct {
	client    ListClient
	queueName string
}

// NewPublisher creates a new queue publisher
func NewPublisher(client ListClient, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{
		client:    client,
		queueName: queueName,
	}
}

// Publish pushes a single offer to the queue
func (p *Publisher) Publish(ctx context.Context, offer domain.EnrichedOffer) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return eris.Wrap(err, "marshal offer")
	}

	if err := p.client.LPush(ctx, p.queueName, data).Err(); err != nil {
		return eris.Wrap(err, "lpush")
	}

	return nil
}

// PublishBatch pushes offers in one LPUSH so consumers see them in order
func (p *Publisher) PublishBatch(ctx context.Context, offers []domain.EnrichedOffer) error {
	if len(offers) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(offers))
	for _, offer := range offers {
		data, err := json.Marshal(offer)
		if err != nil {
			return eris.Wrapf(err, "marshal offer %s", offer.DetailURL)
		}
		values = append(values, data)
	}

	if err := p.client.LPush(ctx, p.queueName, values...).Err(); err != nil {
		return eris.Wrap(err, "lpush")
	}

	return nil
}

// QueueLength returns the current queue length
func (p *Publisher) QueueLength(ctx context.Context) (int64, error) {
	n, err := p.client.LLen(ctx, p.queueName).Result()
	if err != nil {
		return 0, eris.Wrap(err, "llen")
	}
	return n, nil
}
