package hellowork

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/project-tktt/offer-collector/internal/common/cleaner"
	"github.com/project-tktt/offer-collector/internal/common/normalizer"
	"github.com/project-tktt/offer-collector/internal/domain"
)

// Listing is one parsed search results page
type Listing struct {
	Stubs []domain.OfferStub
	// Last page number shown by the pagination control, at least 1
	PageCount int
}

// ListingParser extracts offer stubs and the page count from a search results page
type ListingParser struct {
	sel  Selectors
	base *url.URL
	now  func() time.Time
}

// NewListingParser creates a parser resolving relative links against baseURL.
// now is used for "posted N days ago" dates; nil means time.Now.
func NewListingParser(baseURL string, sel Selectors, now func() time.Time) (*ListingParser, error) {
	if baseURL == "" {
		baseURL = BaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse base url %q", baseURL)
	}
	if now == nil {
		now = time.Now
	}
	return &ListingParser{sel: sel.withDefaults(), base: base, now: now}, nil
}

// Parse never fails on missing elements: absent fields stay empty, a missing
// pagination control means one page, a missing list means no stubs.
func (p *ListingParser) Parse(html string) (Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Listing{}, eris.Wrap(err, "parse listing html")
	}

	listing := Listing{PageCount: p.pageCount(doc)}

	list := doc.Find(p.sel.OfferList).First()
	if list.Length() == 0 {
		return listing, nil
	}

	today := p.now()
	list.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		listing.Stubs = append(listing.Stubs, domain.OfferStub{
			Title:        text(li, p.sel.Title),
			Published:    parseRelativeDate(text(li, p.sel.Published), today),
			DetailURL:    p.resolve(li.Find(p.sel.OfferLink).First().AttrOr("href", "")),
			ContractType: text(li, p.sel.Contract),
			Location:     text(li, p.sel.Location),
			Company:      text(li, p.sel.Company),
		})
	})

	return listing, nil
}

// pageCount reads the last numeric button of the pagination control
func (p *ListingParser) pageCount(doc *goquery.Document) int {
	last := 1
	doc.Find(p.sel.Pagination).First().Find(p.sel.PageButtons).Each(func(_ int, b *goquery.Selection) {
		label := strings.TrimSpace(b.Text())
		if !isDigits(label) {
			return
		}
		if n, err := strconv.Atoi(label); err == nil {
			last = n
		}
	})
	if last < 1 {
		return 1
	}
	return last
}

func (p *ListingParser) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return p.base.ResolveReference(ref).String()
}

// parseRelativeDate turns "il y a N jours" into today minus N days.
// Text without a number means today; empty text means no date.
func parseRelativeDate(s string, now time.Time) *time.Time {
	if s == "" {
		return nil
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if n, ok := normalizer.FirstInt(s); ok {
		day = day.AddDate(0, 0, -n)
	}
	return &day
}

func text(s *goquery.Selection, selector string) string {
	return cleaner.CleanText(s.Find(selector).First().Text())
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
