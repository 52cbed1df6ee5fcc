package enricher

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/project-tktt/offer-collector/internal/common/fetcher"
	"github.com/project-tktt/offer-collector/internal/common/structured"
	"github.com/project-tktt/offer-collector/internal/domain"
	"github.com/project-tktt/offer-collector/internal/module"
)

// DetailParser turns an offer detail page into free text
type DetailParser interface {
	Parse(html string) (domain.ExtractedText, error)
}

// Extractor derives structured attributes from free text
type Extractor interface {
	Extract(ctx context.Context, in structured.Input) (structured.Result, error)
}

type Config struct {
	// Number of offers enriched concurrently within one sub-batch. Default: 1.
	Concurrency int
}

// Batcher fetches detail pages and runs structured extraction over a batch of stubs
type Batcher struct {
	fetcher   fetcher.Fetcher
	parser    DetailParser
	extractor Extractor
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewBatcher(f fetcher.Fetcher, parser DetailParser, ext Extractor, cfg Config, logger *zap.Logger) *Batcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Batcher{
		fetcher:   f,
		parser:    parser,
		extractor: ext,
		config:    cfg,
		logger:    logger.Named("enricher"),
		now:       time.Now,
	}
}

// Request carries the run context the batcher needs for one batch
type Request struct {
	// Keyword for the relevance gate (the searched role)
	Keyword string
	// Progress denominator
	Target int
	// Offers accumulated by the run before this batch
	Already  int
	RunID    string
	Source   domain.OfferSource
	Progress module.ProgressFunc
}

// Stats counts what happened to the stubs of a batch
type Stats struct {
	Extracted  int
	Failed     int
	Irrelevant int
	NoContent  int
	// Enriched but discarded because both skill sets were empty
	Dropped int
	// No detail URL
	Skipped int
}

// Batch is the ordered output of one Enrich call
type Batch struct {
	Offers []domain.EnrichedOffer
	Stats  Stats
}

type item struct {
	offer   domain.EnrichedOffer
	outcome domain.Outcome
}

// Enrich processes stubs with at most Concurrency in flight and returns the
// offers that passed the relevance filter, in input order. Progress is
// reported in input order for every stub that has a detail URL.
//
// A detail fetch transport error or cancellation stops scheduling, and the
// batch returned holds the completed prefix together with the error.
func (b *Batcher) Enrich(ctx context.Context, stubs []domain.OfferStub, req Request) (Batch, error) {
	results := make([]*item, len(stubs))
	done := make([]bool, len(stubs))

	var mu sync.Mutex
	next := 0
	complete := func(i int, it *item) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = it
		done[i] = true
		for next < len(stubs) && done[next] {
			if stubs[next].HasDetailURL() && req.Progress != nil {
				req.Progress(progress(req.Already+next+1, req.Target), req.Target)
			}
			next++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Concurrency)

	for i, stub := range stubs {
		if !stub.HasDetailURL() {
			complete(i, nil)
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up only after a sibling failed
			if err := gctx.Err(); err != nil {
				return err
			}
			it, err := b.enrichOne(gctx, stub, req)
			if err != nil {
				return eris.Wrapf(err, "enrich %s", stub.DetailURL)
			}
			complete(i, it)
			return nil
		})
	}
	err := g.Wait()

	mu.Lock()
	prefix := next
	mu.Unlock()

	var batch Batch
	for i := 0; i < prefix; i++ {
		it := results[i]
		if it == nil {
			batch.Stats.Skipped++
			continue
		}
		switch it.outcome {
		case domain.OutcomeExtracted:
			batch.Stats.Extracted++
		case domain.OutcomeFailed:
			batch.Stats.Failed++
		case domain.OutcomeIrrelevant:
			batch.Stats.Irrelevant++
		case domain.OutcomeNoContent:
			batch.Stats.NoContent++
		}
		if !it.offer.HasSkills() {
			batch.Stats.Dropped++
			continue
		}
		batch.Offers = append(batch.Offers, it.offer)
	}

	if err == nil && ctx.Err() != nil {
		err = eris.Wrap(ctx.Err(), "enrich batch cancelled")
	}
	return batch, err
}

func (b *Batcher) enrichOne(ctx context.Context, stub domain.OfferStub, req Request) (*item, error) {
	page, err := b.fetcher.Fetch(ctx, stub.DetailURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetch detail page")
	}

	var text domain.ExtractedText
	if err := page.CheckOK(); err != nil {
		b.logger.Debug("detail page unusable",
			zap.String("url", stub.DetailURL),
			zap.Int("status", page.StatusCode),
			zap.Error(err),
		)
	} else if text, err = b.parser.Parse(page.HTML()); err != nil {
		b.logger.Warn("detail page parse failed", zap.String("url", stub.DetailURL), zap.Error(err))
		text = domain.ExtractedText{}
	}

	res, err := b.extractor.Extract(ctx, structured.Input{Text: text, Keyword: req.Keyword, URL: stub.DetailURL})
	if err != nil {
		return nil, err
	}

	b.logger.Debug("offer enriched",
		zap.String("url", stub.DetailURL),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("attempts", res.Attempts),
		zap.Bool("cached", res.Cached),
		zap.Bool("kept", res.Attributes.HasSkills()),
	)

	return &item{
		offer: domain.EnrichedOffer{
			OfferStub:            stub,
			StructuredAttributes: res.Attributes,
			Source:               req.Source,
			RunID:                req.RunID,
			Outcome:              res.Outcome,
			CrawledAt:            b.now(),
		},
		outcome: res.Outcome,
	}, nil
}

func progress(done, target int) int {
	if target > 0 && done > target {
		return target
	}
	return done
}
