package hellowork

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/project-tktt/offer-collector/internal/common/fetcher"
	"github.com/project-tktt/offer-collector/internal/common/structured"
	"github.com/project-tktt/offer-collector/internal/domain"
	"github.com/project-tktt/offer-collector/internal/module"
	"github.com/project-tktt/offer-collector/internal/module/enricher"
)

var testQuery = Query{Role: "Data Scientist", Location: "Paris"}

func testRequest(target int) module.Request {
	return module.Request{Role: testQuery.Role, Location: testQuery.Location, Target: target}
}

// pageFetcher serves canned pages by URL; unknown URLs are 404
type pageFetcher struct {
	mu    sync.Mutex
	pages map[string]*fetcher.Page
	errs  map[string]error
	calls []string
}

func newPageFetcher() *pageFetcher {
	return &pageFetcher{pages: map[string]*fetcher.Page{}, errs: map[string]error{}}
}

func (f *pageFetcher) Fetch(_ context.Context, url string) (*fetcher.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return &fetcher.Page{StatusCode: http.StatusNotFound}, nil
}

func (f *pageFetcher) Name() string { return "pages" }

func (f *pageFetcher) listing(page int, html string) {
	f.pages[NewQueryBuilder("", "").PageURL(testQuery, page)] = &fetcher.Page{StatusCode: http.StatusOK, Body: []byte(html)}
}

// listingHTML renders a results page with one offer per id
func listingHTML(ids []int, lastPage int) string {
	var sb strings.Builder
	sb.WriteString(`<html><body><ul aria-label="liste des offres">`)
	for _, id := range ids {
		fmt.Fprintf(&sb, `<li><a data-cy="offerTitle" href="/fr-fr/emplois/%d.html">`+
			`<p class="tw-typo-l sm:small-group:tw-typo-l sm:tw-typo-xl">Offre %d</p></a></li>`, id, id)
	}
	sb.WriteString(`</ul><nav class="tw-hidden sm:tw-flex tw-gap-2 tw-typo-m tw-flex-wrap">`)
	for p := 1; p <= lastPage; p++ {
		fmt.Fprintf(&sb, "<button>%d</button>", p)
	}
	sb.WriteString(`</nav></body></html>`)
	return sb.String()
}

func ids(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// stubEnricher keeps every stub with a URL unless it is listed in drop
type stubEnricher struct {
	calls   [][]domain.OfferStub
	already []int
	drop    map[string]bool
	errAt   int // fail on this call number (1-based), 0 = never
}

func (e *stubEnricher) Enrich(_ context.Context, stubs []domain.OfferStub, req enricher.Request) (enricher.Batch, error) {
	e.calls = append(e.calls, stubs)
	e.already = append(e.already, req.Already)

	var batch enricher.Batch
	for i, s := range stubs {
		if e.errAt == len(e.calls) && i == 1 {
			return batch, errors.New("connection reset by peer")
		}
		if !s.HasDetailURL() {
			batch.Stats.Skipped++
			continue
		}
		if e.drop[s.DetailURL] {
			batch.Stats.Irrelevant++
			batch.Stats.Dropped++
			continue
		}
		attrs := domain.EmptyAttributes(nil)
		attrs.HardSkills = []string{"python"}
		batch.Offers = append(batch.Offers, domain.EnrichedOffer{
			OfferStub:            s,
			StructuredAttributes: attrs,
			Source:               req.Source,
			RunID:                req.RunID,
			Outcome:              domain.OutcomeExtracted,
		})
		batch.Stats.Extracted++
	}
	return batch, nil
}

func (e *stubEnricher) enriched() int {
	n := 0
	for _, c := range e.calls {
		n += len(c)
	}
	return n
}

type sleepRecorder struct {
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

func newTestCrawler(t *testing.T, f fetcher.Fetcher, enr Enricher, cfg Config) (*Crawler, *sleepRecorder) {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return fixedNow }
	}
	c, err := NewCrawler(f, enr, cfg, zap.NewNop())
	require.NoError(t, err)
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func TestCollect_SinglePage(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, readFixture(t, "listing_three.html"))
	enr := &stubEnricher{}
	c, sleeps := newTestCrawler(t, f, enr, Config{})

	res := c.Collect(context.Background(), testRequest(50))

	assert.Equal(t, domain.StopLastPageReached, res.Reason)
	assert.NoError(t, res.Err)
	require.Len(t, res.Offers, 3)
	assert.Equal(t, "Data Scientist H/F", res.Offers[0].Title)
	assert.Equal(t, res.RunID, res.Offers[0].RunID)
	assert.Equal(t, domain.SourceHelloWork, res.Offers[0].Source)
	assert.Equal(t, 1, res.State.PagesProcessed)
	assert.Equal(t, 1, res.State.LastKnownPageCount)
	assert.Equal(t, 3, res.State.CollectedCount)
	assert.Equal(t, []time.Duration{time.Second}, sleeps.delays)
	assert.Len(t, f.calls, 1)
}

func TestCollect_FetchErrorOnFirstPage(t *testing.T) {
	f := newPageFetcher()
	f.pages[NewQueryBuilder("", "").Build(testQuery)] = &fetcher.Page{
		StatusCode:    http.StatusServiceUnavailable,
		Body:          []byte("busy"),
		HeadersSample: map[string]string{"retry-after": "60"},
	}
	enr := &stubEnricher{}
	c, _ := newTestCrawler(t, f, enr, Config{})

	res := c.Collect(context.Background(), testRequest(10))

	assert.Equal(t, domain.StopFetchError, res.Reason)
	assert.True(t, eris.Is(res.Err, fetcher.ErrUnexpectedStatus))
	assert.NotNil(t, res.Offers)
	assert.Empty(t, res.Offers)
	assert.Empty(t, enr.calls)
	assert.Equal(t, 0, res.State.PagesProcessed)
}

func TestCollect_EmptyBodyIsFetchError(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, "")
	c, _ := newTestCrawler(t, f, &stubEnricher{}, Config{})

	res := c.Collect(context.Background(), testRequest(10))
	assert.Equal(t, domain.StopFetchError, res.Reason)
	assert.True(t, eris.Is(res.Err, fetcher.ErrEmptyBody))
}

func TestCollect_CapReached(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML(ids(1, 10), 3))
	f.listing(2, listingHTML(ids(11, 20), 3))
	enr := &stubEnricher{}
	c, _ := newTestCrawler(t, f, enr, Config{})

	res := c.Collect(context.Background(), testRequest(5))

	assert.Equal(t, domain.StopCapReached, res.Reason)
	require.Len(t, res.Offers, 5)
	assert.Equal(t, 5, enr.enriched())
	assert.Equal(t, "https://www.hellowork.com/fr-fr/emplois/5.html", res.Offers[4].DetailURL)
	assert.Equal(t, 2, res.State.PagesProcessed)
}

func TestCollect_DroppedOffersLeaveRoomForNextPage(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML(ids(1, 4), 2))
	f.listing(2, listingHTML(ids(5, 8), 2))
	enr := &stubEnricher{drop: map[string]bool{
		"https://www.hellowork.com/fr-fr/emplois/2.html": true,
		"https://www.hellowork.com/fr-fr/emplois/3.html": true,
	}}
	c, _ := newTestCrawler(t, f, enr, Config{})

	res := c.Collect(context.Background(), testRequest(4))

	// 2 kept on page 1, so page 2 only gets 2 stubs
	assert.Equal(t, domain.StopLastPageReached, res.Reason)
	require.Len(t, enr.calls, 2)
	assert.Len(t, enr.calls[1], 2)
	assert.Len(t, res.Offers, 4)
	assert.Equal(t, 2, res.State.Dropped)
	assert.Equal(t, 2, res.State.Irrelevant)
	assert.Equal(t, 4, res.State.Extracted)
}

func TestCollect_SubBatches(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML(ids(1, 5), 1))
	enr := &stubEnricher{}
	c, sleeps := newTestCrawler(t, f, enr, Config{BatchSize: 2, BatchDelay: 250 * time.Millisecond})

	res := c.Collect(context.Background(), testRequest(100))

	require.Len(t, enr.calls, 3)
	assert.Equal(t, []int{0, 2, 4}, enr.already)
	assert.Len(t, enr.calls[2], 1)
	assert.Len(t, res.Offers, 5)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}, sleeps.delays)
}

func TestCollect_BatchJitter(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML(ids(1, 3), 1))
	c, sleeps := newTestCrawler(t, f, &stubEnricher{}, Config{BatchDelay: time.Second, BatchJitter: 500 * time.Millisecond})

	c.Collect(context.Background(), testRequest(10))

	require.Len(t, sleeps.delays, 1)
	assert.GreaterOrEqual(t, sleeps.delays[0], time.Second)
	assert.Less(t, sleeps.delays[0], 1500*time.Millisecond)
}

func TestCollect_HardCapSafety(t *testing.T) {
	f := newPageFetcher()
	for p := 1; p <= 4; p++ {
		f.listing(p, listingHTML(ids(p*10, p*10+1), 50))
	}
	enr := &stubEnricher{}
	c, _ := newTestCrawler(t, f, enr, Config{MaxPages: 3})

	res := c.Collect(context.Background(), testRequest(1000))

	assert.Equal(t, domain.StopHardCapSafety, res.Reason)
	assert.NoError(t, res.Err)
	assert.Equal(t, 3, res.State.PagesProcessed)
	assert.Len(t, res.Offers, 6)
	assert.Len(t, f.calls, 3)
}

func TestCollect_NoOffers(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML(ids(1, 2), 5))
	f.listing(2, readFixture(t, "listing_no_results.html"))
	c, _ := newTestCrawler(t, f, &stubEnricher{}, Config{})

	res := c.Collect(context.Background(), testRequest(100))

	assert.Equal(t, domain.StopNoOffers, res.Reason)
	assert.Len(t, res.Offers, 2)
	assert.Equal(t, 2, res.State.PagesProcessed)
}

func TestCollect_FirstSeenPageCountWins(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML(ids(1, 2), 2))
	f.listing(2, listingHTML(ids(3, 4), 9))
	f.listing(3, listingHTML(ids(5, 6), 9))
	c, _ := newTestCrawler(t, f, &stubEnricher{}, Config{})

	res := c.Collect(context.Background(), testRequest(100))

	assert.Equal(t, domain.StopLastPageReached, res.Reason)
	assert.Equal(t, 2, res.State.LastKnownPageCount)
	assert.Equal(t, 2, res.State.CurrentPage)
	assert.Len(t, res.Offers, 4)
}

func TestCollect_TransportErrorKeepsPartialResults(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML(ids(1, 3), 4))
	f.errs[NewQueryBuilder("", "").PageURL(testQuery, 2)] = errors.New("i/o timeout")
	c, _ := newTestCrawler(t, f, &stubEnricher{}, Config{})

	res := c.Collect(context.Background(), testRequest(100))

	assert.Equal(t, domain.StopException, res.Reason)
	assert.Error(t, res.Err)
	assert.Len(t, res.Offers, 3)
}

func TestCollect_EnrichErrorKeepsPartialBatch(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML(ids(1, 3), 1))
	c, sleeps := newTestCrawler(t, f, &stubEnricher{errAt: 1}, Config{})

	res := c.Collect(context.Background(), testRequest(100))

	assert.Equal(t, domain.StopException, res.Reason)
	assert.Contains(t, res.Err.Error(), "connection reset")
	assert.Len(t, res.Offers, 1)
	assert.Empty(t, sleeps.delays)
}

func TestCollect_CancelledDuringDelay(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML(ids(1, 3), 2))
	c, sleeps := newTestCrawler(t, f, &stubEnricher{}, Config{})
	sleeps.err = context.Canceled

	res := c.Collect(context.Background(), testRequest(100))

	assert.Equal(t, domain.StopException, res.Reason)
	assert.Len(t, res.Offers, 3)
	assert.Len(t, f.calls, 1)
}

func TestCollect_SkipsURLsSeenEarlierInRun(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, listingHTML([]int{1, 2, 2, 3}, 2))
	f.listing(2, listingHTML([]int{3, 4}, 2))
	enr := &stubEnricher{}
	c, _ := newTestCrawler(t, f, enr, Config{})

	res := c.Collect(context.Background(), testRequest(100))

	require.Len(t, enr.calls, 2)
	assert.Len(t, enr.calls[0], 3)
	require.Len(t, enr.calls[1], 1)
	assert.Equal(t, "https://www.hellowork.com/fr-fr/emplois/4.html", enr.calls[1][0].DetailURL)
	assert.Len(t, res.Offers, 4)
}

func TestCollect_StubsWithoutURLAreForwarded(t *testing.T) {
	f := newPageFetcher()
	f.listing(1, readFixture(t, "listing_partial.html"))
	f.listing(2, readFixture(t, "listing_no_results.html"))
	enr := &stubEnricher{}
	c, _ := newTestCrawler(t, f, enr, Config{})

	res := c.Collect(context.Background(), testRequest(100))

	require.NotEmpty(t, enr.calls)
	assert.Len(t, enr.calls[0], 2)
	assert.Len(t, res.Offers, 1)
	assert.Equal(t, 37, res.State.LastKnownPageCount)
}

type mockModel struct {
	mock.Mock
}

func (m *mockModel) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *mockModel) Name() string { return "mock" }

func promptContains(s string) interface{} {
	return mock.MatchedBy(func(p string) bool { return strings.Contains(p, s) })
}

// fullPipeline wires the real batcher, detail parser and structured extractor
func fullPipeline(t *testing.T, model *mockModel) (*Crawler, *pageFetcher) {
	t.Helper()
	f := newPageFetcher()
	f.listing(1, readFixture(t, "listing_three.html"))
	detail := func(name string) *fetcher.Page {
		return &fetcher.Page{StatusCode: http.StatusOK, Body: []byte(readFixture(t, name))}
	}
	f.pages["https://www.hellowork.com/fr-fr/emplois/1001.html"] = detail("detail_full.html")
	f.pages["https://www.hellowork.com/fr-fr/emplois/1002.html"] = detail("detail_full.html")
	f.pages["https://www.hellowork.com/fr-fr/emplois/1003.html"] = detail("detail_empty.html")

	ext := structured.NewExtractor(model,
		structured.WithRetry(structured.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		structured.WithLogger(zap.NewNop()),
	)
	batcher := enricher.NewBatcher(f, NewDetailExtractor(DefaultSelectors()), ext, enricher.Config{Concurrency: 2}, zap.NewNop())
	c, _ := newTestCrawler(t, f, batcher, Config{})
	return c, f
}

func TestCollect_FullPipeline(t *testing.T) {
	model := &mockModel{}
	model.On("GenerateJSON", mock.Anything, promptContains("prévision")).
		Return(`{"hard_skills":["SQL","Python"],"soft_skills":["Rigueur"],"years_experience_min":null,"domains":["Banque"]}`, nil)

	c, _ := fullPipeline(t, model)

	var progress []int
	req := testRequest(10)
	req.Progress = func(done, target int) {
		assert.Equal(t, 10, target)
		progress = append(progress, done)
	}
	res := c.Collect(context.Background(), req)

	assert.Equal(t, domain.StopLastPageReached, res.Reason)
	require.Len(t, res.Offers, 2)
	first := res.Offers[0]
	assert.Equal(t, "Data Scientist H/F", first.Title)
	assert.Equal(t, []string{"python", "sql"}, first.HardSkills)
	assert.Equal(t, []string{"rigueur"}, first.SoftSkills)
	assert.Equal(t, []string{"Banque"}, first.Domains)
	require.NotNil(t, first.MinYearsExperience)
	assert.Equal(t, 3, *first.MinYearsExperience)
	assert.Equal(t, domain.OutcomeExtracted, first.Outcome)

	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Equal(t, 1, res.State.NoContent)
	assert.Equal(t, 1, res.State.Dropped)
}

func TestCollect_SchemaFailuresAreDropped(t *testing.T) {
	model := &mockModel{}
	model.On("GenerateJSON", mock.Anything, mock.Anything).Return(`{"hard_skills":["Python"]}`, nil)

	c, _ := fullPipeline(t, model)
	res := c.Collect(context.Background(), testRequest(10))

	assert.Equal(t, domain.StopLastPageReached, res.Reason)
	assert.Empty(t, res.Offers)
	assert.Equal(t, 2, res.State.Failed)
	model.AssertNumberOfCalls(t, "GenerateJSON", 10)
}

func TestCollect_Idempotent(t *testing.T) {
	model := &mockModel{}
	model.On("GenerateJSON", mock.Anything, mock.Anything).
		Return(`{"hard_skills":["Python"],"soft_skills":[],"years_experience_min":2,"domains":[]}`, nil)

	c, _ := fullPipeline(t, model)
	normalize := func(offers []domain.EnrichedOffer) []domain.EnrichedOffer {
		out := make([]domain.EnrichedOffer, len(offers))
		for i, o := range offers {
			o.RunID = ""
			o.CrawledAt = time.Time{}
			out[i] = o
		}
		return out
	}

	first := c.Collect(context.Background(), testRequest(10))
	second := c.Collect(context.Background(), testRequest(10))

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, normalize(first.Offers), normalize(second.Offers))
	assert.Equal(t, first.Reason, second.Reason)
}
