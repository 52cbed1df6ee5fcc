package worker

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/project-tktt/offer-collector/internal/common/indexer"
	"github.com/project-tktt/offer-collector/internal/common/normalizer"
	"github.com/project-tktt/offer-collector/internal/domain"
)

// Source yields batches of enriched offers; an empty batch means nothing arrived before the poll timeout
type Source interface {
	ConsumeBatch(ctx context.Context, maxBatch int) ([]domain.EnrichedOffer, error)
}

// Worker drains enriched offers from the queue into an index
type Worker struct {
	source  Source
	indexer indexer.Indexer
	logger  *zap.Logger

	batchSize   int
	concurrency int
}

// Config holds worker configuration
type Config struct {
	Concurrency int
	BatchSize   int
}

// NewWorker creates a new worker
func NewWorker(source Source, idx indexer.Indexer, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = zap.L()
	}

	return &Worker{
		source:      source,
		indexer:     idx,
		logger:      logger.Named("worker"),
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting worker pool", zap.Int("workers", w.concurrency), zap.Int("batch_size", w.batchSize))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.runSingle(gctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) runSingle(ctx context.Context, workerID int) {
	logger := w.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug("worker stopping")
			return
		}

		offers, err := w.source.ConsumeBatch(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("consume failed", zap.Error(err))
			}
			continue
		}
		if len(offers) == 0 {
			continue
		}

		offers = prepare(offers)
		if len(offers) == 0 {
			continue
		}

		if err := w.indexer.BulkIndex(ctx, offers); err != nil {
			logger.Error("index failed", zap.Int("offers", len(offers)), zap.Error(err))
			continue
		}
		logger.Info("indexed offers", zap.Int("offers", len(offers)))
	}
}

// prepare drops offers without an identity and re-normalizes attribute lists,
// since producers other than the collector may write to the queue
func prepare(offers []domain.EnrichedOffer) []domain.EnrichedOffer {
	out := offers[:0]
	for _, o := range offers {
		if !o.HasDetailURL() {
			continue
		}
		o.HardSkills = normalizer.Skills(o.HardSkills)
		o.SoftSkills = normalizer.Skills(o.SoftSkills)
		o.Domains = normalizer.Domains(o.Domains)
		out = append(out, o)
	}
	return out
}
