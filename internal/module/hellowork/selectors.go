package hellowork

// Selectors locates offer data in HelloWork markup. Class selectors use exact
// attribute matches because the site's utility classes are shared by unrelated elements.
type Selectors struct {
	// Listing page
	OfferList   string
	OfferLink   string
	Title       string
	Published   string
	Contract    string
	Location    string
	Company     string
	Pagination  string
	PageButtons string

	// Detail page
	Mission          string
	Profile          string
	ExperienceList   string
	ExperienceMarker string
}

func DefaultSelectors() Selectors {
	return Selectors{
		OfferList:   `ul[aria-label="liste des offres"]`,
		OfferLink:   `a[data-cy="offerTitle"]`,
		Title:       `p[class="tw-typo-l sm:small-group:tw-typo-l sm:tw-typo-xl"]`,
		Published:   `div[class="tw-typo-s tw-text-grey-500 tw-pl-1 tw-pt-1"]`,
		Contract:    `div[data-cy="contractCard"]`,
		Location:    `div[data-cy="localisationCard"]`,
		Company:     `p[class="tw-typo-s tw-inline"]`,
		Pagination:  `nav[class="tw-hidden sm:tw-flex tw-gap-2 tw-typo-m tw-flex-wrap"]`,
		PageButtons: "button",

		Mission:          "div.tw-leading-relaxed[data-truncate-text-target]",
		Profile:          `p[class="tw-typo-long-m tw-break-words"]`,
		ExperienceList:   "ul.tw-flex.tw-flex-wrap.tw-gap-3",
		ExperienceMarker: "Exp.",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.OfferList, d.OfferList)
	fill(&s.OfferLink, d.OfferLink)
	fill(&s.Title, d.Title)
	fill(&s.Published, d.Published)
	fill(&s.Contract, d.Contract)
	fill(&s.Location, d.Location)
	fill(&s.Company, d.Company)
	fill(&s.Pagination, d.Pagination)
	fill(&s.PageButtons, d.PageButtons)
	fill(&s.Mission, d.Mission)
	fill(&s.Profile, d.Profile)
	fill(&s.ExperienceList, d.ExperienceList)
	fill(&s.ExperienceMarker, d.ExperienceMarker)
	return s
}
