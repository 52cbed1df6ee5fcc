package hellowork

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/project-tktt/offer-collector/internal/common/cleaner"
	"github.com/project-tktt/offer-collector/internal/domain"
)

// DetailExtractor reads the mission, profile and experience line of an offer page
type DetailExtractor struct {
	sel     Selectors
	cleaner *cleaner.Cleaner
}

func NewDetailExtractor(sel Selectors) *DetailExtractor {
	return &DetailExtractor{sel: sel.withDefaults(), cleaner: cleaner.NewCleaner()}
}

func (d *DetailExtractor) Parse(html string) (domain.ExtractedText, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.ExtractedText{}, eris.Wrap(err, "parse detail html")
	}

	return domain.ExtractedText{
		MissionText:       d.block(doc.Find(d.sel.Mission).First()),
		ProfileText:       d.block(doc.Find(d.sel.Profile).First()),
		RawExperienceText: d.experience(doc),
	}, nil
}

func (d *DetailExtractor) block(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	inner, err := s.Html()
	if err != nil {
		return cleaner.CleanText(s.Text())
	}
	return d.cleaner.HTMLToText(inner)
}

// experience returns the last tag of the offer summary list when it is the experience tag
func (d *DetailExtractor) experience(doc *goquery.Document) string {
	line := cleaner.CleanText(doc.Find(d.sel.ExperienceList).First().ChildrenFiltered("li").Last().Text())
	if !strings.Contains(line, d.sel.ExperienceMarker) {
		return ""
	}
	return line
}
