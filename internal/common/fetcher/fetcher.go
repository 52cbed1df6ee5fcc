package fetcher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrUnexpectedStatus is returned by Page.CheckOK for any status other than 200
	ErrUnexpectedStatus = eris.New("unexpected status")
	// ErrEmptyBody is returned by Page.CheckOK when a 200 response has no content
	ErrEmptyBody = eris.New("empty body")
)

// Fetcher defines the interface for downloading pages from the job board.
// Two implementations: HTTPFetcher (net/http) and CollyFetcher (colly collector).
type Fetcher interface {
	// Fetch GETs url. A non-nil error means the request itself failed
	// (network, timeout, cancellation); HTTP error statuses are reported in Page.
	Fetch(ctx context.Context, url string) (*Page, error)

	// Name returns the name of this fetcher
	Name() string
}

// Page is one downloaded document plus the response details worth logging
type Page struct {
	StatusCode    int
	FinalURL      string
	ContentType   string
	ContentLength int
	HeadersSample map[string]string
	Body          []byte
}

// CheckOK reports whether the page is usable: status 200 and a non-empty body
func (p *Page) CheckOK() error {
	if p.StatusCode != http.StatusOK {
		return eris.Wrapf(ErrUnexpectedStatus, "status %d", p.StatusCode)
	}
	if len(p.Body) == 0 {
		return ErrEmptyBody
	}
	return nil
}

// HTML returns the body as a string
func (p *Page) HTML() string {
	return string(p.Body)
}

// Config holds common configuration for fetchers
type Config struct {
	UserAgent      string
	AcceptLanguage string
	ProxyURL       string
	Timeout        time.Duration
	// Minimum delay between requests to the same domain (colly only)
	RequestDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = "fr-FR,fr;q=0.9,en;q=0.8"
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	return c
}

// Headers returns the browser-like header set sent with every request
func (c Config) Headers() map[string]string {
	return map[string]string{
		"User-Agent":      c.UserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": c.AcceptLanguage,
		"Accept-Encoding": "gzip, deflate",
	}
}

// New creates the fetcher for the given backend name ("http" or "colly")
func New(backend string, cfg Config) (Fetcher, error) {
	switch backend {
	case "", "http":
		return NewHTTPFetcher(cfg)
	case "colly":
		return NewCollyFetcher(cfg)
	default:
		return nil, eris.Errorf("unknown fetcher backend %q", backend)
	}
}

var sampledHeaders = []string{"server", "location", "set-cookie", "cf-ray", "cf-cache-status", "retry-after"}

func sampleHeaders(h http.Header) map[string]string {
	out := make(map[string]string)
	for _, name := range sampledHeaders {
		if v := h.Values(name); len(v) > 0 {
			out[name] = strings.Join(v, ", ")
		}
	}
	return out
}
