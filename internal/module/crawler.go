package module

import (
	"context"
	"time"

	"github.com/project-tktt/offer-collector/internal/domain"
)

// ProgressFunc receives (offers processed so far, target count) after each processed stub
type ProgressFunc func(done, target int)

// Request is one collection run's input
type Request struct {
	Role     string
	Location string
	// Empty means any contract type
	Contract string
	// Maximum number of offers to accumulate
	Target int
	// Optional progress sink
	Progress ProgressFunc
}

// Result is what a run returns. It is returned for every stop reason;
// Err carries the cause for fetchError and exception stops.
type Result struct {
	RunID   string                 `json:"run_id"`
	Offers  []domain.EnrichedOffer `json:"offers"`
	Reason  domain.StopReason      `json:"reason"`
	Err     error                  `json:"-"`
	State   domain.CrawlState      `json:"state"`
	Elapsed time.Duration          `json:"elapsed"`
}

// Collector is the common interface for job board collectors
type Collector interface {
	// Collect runs the paginated crawl and enrichment. It never returns an error;
	// partial results are always returned with the stop reason.
	Collect(ctx context.Context, req Request) Result
	// Source returns the source identifier
	Source() domain.OfferSource
}
