package indexer

import (
	"context"

	"github.com/project-tktt/offer-collector/internal/domain"
)

// Indexer defines the interface for offer indexing backends
type Indexer interface {
	// BulkIndex upserts offers keyed by EnrichedOffer.ID
	BulkIndex(ctx context.Context, offers []domain.EnrichedOffer) error
	Close() error
}
