package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// HTTPFetcher implements Fetcher on net/http with a browser-like header set
type HTTPFetcher struct {
	client  *http.Client
	config  Config
	headers map[string]string
}

// NewHTTPFetcher creates a fetcher that follows redirects and times out after cfg.Timeout
func NewHTTPFetcher(cfg Config) (*HTTPFetcher, error) {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, eris.Wrap(err, "parse proxy url")
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config:  cfg,
		headers: cfg.Headers(),
	}, nil
}

func (f *HTTPFetcher) Name() string {
	return "http"
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read body")
	}

	// Accept-Encoding is set explicitly, so the transport leaves the body encoded
	body, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, eris.Wrap(err, "decode body")
	}

	return &Page{
		StatusCode:    resp.StatusCode,
		FinalURL:      resp.Request.URL.String(),
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: len(body),
		HeadersSample: sampleHeaders(resp.Header),
		Body:          body,
	}, nil
}

func decodeBody(encoding string, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		// Most servers send zlib-wrapped deflate; a few send raw deflate
		if r, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer r.Close()
			return io.ReadAll(r)
		}
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return raw, nil
	}
}
