package hellowork

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/project-tktt/offer-collector/internal/common/fetcher"
	"github.com/project-tktt/offer-collector/internal/domain"
	"github.com/project-tktt/offer-collector/internal/module"
	"github.com/project-tktt/offer-collector/internal/module/enricher"
)

// Enricher turns a sub-batch of stubs into enriched offers
type Enricher interface {
	Enrich(ctx context.Context, stubs []domain.OfferStub, req enricher.Request) (enricher.Batch, error)
}

// Config holds HelloWork-specific configuration
type Config struct {
	BaseURL    string
	SearchPath string
	Selectors  Selectors
	// Absolute page ceiling regardless of the site's pagination. Default: 500.
	MaxPages int
	// Maximum stubs per enrichment call. Default: 100.
	BatchSize int
	// Pause after each sub-batch, plus a random 0..BatchJitter. Default: 1s.
	BatchDelay  time.Duration
	BatchJitter time.Duration
	// Clock for relative dates. Default: time.Now.
	Now func() time.Time
}

// Crawler implements offer collection for HelloWork
type Crawler struct {
	fetcher  fetcher.Fetcher
	enricher Enricher
	queries  *QueryBuilder
	listing  *ListingParser
	config   Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCrawler creates a new HelloWork crawler. f fetches listing pages.
func NewCrawler(f fetcher.Fetcher, enr Enricher, cfg Config, logger *zap.Logger) (*Crawler, error) {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 500
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = time.Second
	}
	if cfg.BatchJitter < 0 {
		cfg.BatchJitter = 0
	}
	if logger == nil {
		logger = zap.L()
	}

	listing, err := NewListingParser(cfg.BaseURL, cfg.Selectors, cfg.Now)
	if err != nil {
		return nil, err
	}

	return &Crawler{
		fetcher:  f,
		enricher: enr,
		queries:  NewQueryBuilder(cfg.BaseURL, cfg.SearchPath),
		listing:  listing,
		config:   cfg,
		logger:   logger.Named("hellowork"),
		sleep:    sleepCtx,
	}, nil
}

// Source returns the source identifier
func (c *Crawler) Source() domain.OfferSource {
	return domain.SourceHelloWork
}

// Collect walks the search result pages and enriches offers until the target
// is reached, the last page is processed or something stops the run.
// Accumulated offers are returned for every stop reason.
func (c *Crawler) Collect(ctx context.Context, req module.Request) module.Result {
	run := &collectRun{
		crawler: c,
		req:     req,
		query:   Query{Role: req.Role, Location: req.Location, Contract: req.Contract}.Normalized(),
		runID:   uuid.NewString(),
		started: time.Now(),
		seen:    make(map[string]struct{}),
		state:   domain.CrawlState{TargetCount: req.Target},
	}
	run.logger = c.logger.With(zap.String("run_id", run.runID))

	run.logger.Info("collection started",
		zap.String("role", run.query.Role),
		zap.String("location", run.query.Location),
		zap.String("contract", run.query.Contract),
		zap.Int("target", req.Target),
		zap.Int("max_pages", c.config.MaxPages),
		zap.String("search_url", c.queries.Build(run.query)),
	)

	for page := 1; page <= c.config.MaxPages; page++ {
		if reason, stop, err := run.page(ctx, page); stop {
			return run.finish(reason, err)
		}
	}

	return run.finish(domain.StopHardCapSafety, nil)
}

// collectRun is the state of one Collect call
type collectRun struct {
	crawler *Crawler
	req     module.Request
	query   Query
	runID   string
	started time.Time
	logger  *zap.Logger

	state  domain.CrawlState
	offers []domain.EnrichedOffer
	// Detail URLs already scheduled in this run
	seen map[string]struct{}
}

// page runs one iteration of the page loop and reports whether the run stops
func (r *collectRun) page(ctx context.Context, page int) (domain.StopReason, bool, error) {
	c := r.crawler
	r.state.CurrentPage = page

	if err := ctx.Err(); err != nil {
		return domain.StopException, true, eris.Wrap(err, "collection cancelled")
	}

	pageURL := c.queries.PageURL(r.query, page)
	resp, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return domain.StopException, true, eris.Wrapf(err, "fetch page %d", page)
	}
	if err := resp.CheckOK(); err != nil {
		r.logger.Error("listing page not retrieved",
			zap.Int("page", page),
			zap.String("url", pageURL),
			zap.Int("status", resp.StatusCode),
			zap.String("final_url", resp.FinalURL),
			zap.String("content_type", resp.ContentType),
			zap.Int("content_length", resp.ContentLength),
			zap.Any("headers", resp.HeadersSample),
		)
		return domain.StopFetchError, true, eris.Wrapf(err, "page %d", page)
	}

	listing, err := c.listing.Parse(resp.HTML())
	if err != nil {
		return domain.StopException, true, eris.Wrapf(err, "page %d", page)
	}
	r.state.PagesProcessed++

	// The first page's total is authoritative for the whole run
	if r.state.LastKnownPageCount == 0 {
		r.state.LastKnownPageCount = listing.PageCount
	}

	r.logger.Info("listing page parsed",
		zap.Int("page", page),
		zap.Int("last_page", r.state.LastKnownPageCount),
		zap.Int("stubs", len(listing.Stubs)),
		zap.Int("collected", len(r.offers)),
	)

	if len(listing.Stubs) == 0 {
		return domain.StopNoOffers, true, nil
	}

	remaining := r.state.Remaining()
	if remaining <= 0 {
		return domain.StopCapReached, true, nil
	}

	stubs := r.unseen(listing.Stubs)
	if len(stubs) > remaining {
		stubs = stubs[:remaining]
	}
	r.markSeen(stubs)

	for start := 0; start < len(stubs); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(stubs))

		batch, err := c.enricher.Enrich(ctx, stubs[start:end], enricher.Request{
			Keyword:  r.query.Role,
			Target:   r.req.Target,
			Already:  len(r.offers),
			RunID:    r.runID,
			Source:   domain.SourceHelloWork,
			Progress: r.req.Progress,
		})
		r.accumulate(batch)
		if err != nil {
			return domain.StopException, true, eris.Wrapf(err, "enrich page %d", page)
		}

		if err := c.sleep(ctx, c.batchDelay()); err != nil {
			return domain.StopException, true, eris.Wrap(err, "collection cancelled")
		}
	}

	if page >= r.state.LastKnownPageCount {
		return domain.StopLastPageReached, true, nil
	}
	return "", false, nil
}

// unseen drops stubs whose detail URL was already scheduled in this run.
// Stubs without a URL are kept; the enricher skips them.
func (r *collectRun) unseen(stubs []domain.OfferStub) []domain.OfferStub {
	out := make([]domain.OfferStub, 0, len(stubs))
	page := make(map[string]struct{}, len(stubs))
	for _, s := range stubs {
		if s.HasDetailURL() {
			if _, ok := r.seen[s.DetailURL]; ok {
				continue
			}
			if _, ok := page[s.DetailURL]; ok {
				continue
			}
			page[s.DetailURL] = struct{}{}
		}
		out = append(out, s)
	}
	return out
}

func (r *collectRun) markSeen(stubs []domain.OfferStub) {
	for _, s := range stubs {
		if s.HasDetailURL() {
			r.seen[s.DetailURL] = struct{}{}
		}
	}
}

func (r *collectRun) accumulate(batch enricher.Batch) {
	r.offers = append(r.offers, batch.Offers...)
	r.state.CollectedCount = len(r.offers)
	r.state.Extracted += batch.Stats.Extracted
	r.state.Failed += batch.Stats.Failed
	r.state.Irrelevant += batch.Stats.Irrelevant
	r.state.NoContent += batch.Stats.NoContent
	r.state.Dropped += batch.Stats.Dropped
}

func (r *collectRun) finish(reason domain.StopReason, err error) module.Result {
	elapsed := time.Since(r.started)
	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Int("pages", r.state.PagesProcessed),
		zap.Int("collected", len(r.offers)),
		zap.Int("target", r.state.TargetCount),
		zap.Int("extracted", r.state.Extracted),
		zap.Int("failed", r.state.Failed),
		zap.Int("irrelevant", r.state.Irrelevant),
		zap.Int("no_content", r.state.NoContent),
		zap.Int("dropped", r.state.Dropped),
		zap.Duration("elapsed", elapsed),
	}

	switch reason {
	case domain.StopHardCapSafety:
		r.logger.Warn("safety page cap reached", append(fields, zap.Int("max_pages", r.crawler.config.MaxPages))...)
	case domain.StopFetchError, domain.StopException:
		r.logger.Error("collection stopped", append(fields, zap.Error(err))...)
	default:
		r.logger.Info("collection finished", fields...)
	}

	offers := r.offers
	if offers == nil {
		offers = []domain.EnrichedOffer{}
	}
	return module.Result{
		RunID:   r.runID,
		Offers:  offers,
		Reason:  reason,
		Err:     err,
		State:   r.state,
		Elapsed: elapsed,
	}
}

func (c *Crawler) batchDelay() time.Duration {
	d := c.config.BatchDelay
	if c.config.BatchJitter > 0 {
		d += time.Duration(rand.Int64N(int64(c.config.BatchJitter)))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
