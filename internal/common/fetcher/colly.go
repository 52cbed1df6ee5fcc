package fetcher

import (
	"context"
	"net/http"

	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
)

// CollyFetcher implements Fetcher using a Colly collector
type CollyFetcher struct {
	collector *colly.Collector
	config    Config
	headers   map[string]string
}

// NewCollyFetcher creates a Colly-based fetcher. RequestDelay becomes a per-domain LimitRule.
func NewCollyFetcher(cfg Config) (*CollyFetcher, error) {
	cfg = cfg.withDefaults()

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(cfg.Timeout)

	if cfg.RequestDelay > 0 {
		if err := c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Delay:       cfg.RequestDelay,
			RandomDelay: cfg.RequestDelay / 2,
		}); err != nil {
			return nil, eris.Wrap(err, "colly limit rule")
		}
	}

	if cfg.ProxyURL != "" {
		if err := c.SetProxy(cfg.ProxyURL); err != nil {
			return nil, eris.Wrap(err, "colly proxy")
		}
	}

	return &CollyFetcher{
		collector: c,
		config:    cfg,
		headers:   cfg.Headers(),
	}, nil
}

func (f *CollyFetcher) Name() string {
	return "colly"
}

func (f *CollyFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "fetch cancelled")
	}

	var page *Page
	var transportErr error

	collector := f.collector.Clone()

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range f.headers {
			r.Headers.Set(k, v)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		page = pageFromColly(r)
	})

	// Colly reports non-2xx statuses as errors; keep them as pages
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			page = pageFromColly(r)
			return
		}
		transportErr = err
	})

	visitErr := collector.Visit(url)
	if page != nil {
		return page, nil
	}
	if transportErr != nil {
		return nil, eris.Wrap(transportErr, "colly request")
	}
	if visitErr != nil {
		return nil, eris.Wrap(visitErr, "visit url")
	}
	return nil, eris.Errorf("no response from %s", url)
}

func pageFromColly(r *colly.Response) *Page {
	page := &Page{
		StatusCode:    r.StatusCode,
		ContentLength: len(r.Body),
		Body:          r.Body,
	}
	if r.Request != nil && r.Request.URL != nil {
		page.FinalURL = r.Request.URL.String()
	}
	if r.Headers != nil {
		page.ContentType = r.Headers.Get("Content-Type")
		page.HeadersSample = sampleHeaders(*r.Headers)
	} else {
		page.HeadersSample = sampleHeaders(http.Header{})
	}
	return page
}
