package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// OfferSource identifies the job board an offer was collected from
type OfferSource string

const (
	SourceHelloWork OfferSource = "hellowork"
)

// OfferStub is the minimal offer record parsed from a listing page.
// Empty strings mean the field was absent on the page. DetailURL is the identity;
// a stub without one cannot be enriched.
type OfferStub struct {
	Title        string     `json:"title,omitempty"`
	Published    *time.Time `json:"published,omitempty"`
	DetailURL    string     `json:"url,omitempty"`
	ContractType string     `json:"contract_type,omitempty"`
	Location     string     `json:"location,omitempty"`
	Company      string     `json:"company,omitempty"`
}

// HasDetailURL reports whether the stub can be enriched
func (s OfferStub) HasDetailURL() bool {
	return s.DetailURL != ""
}

// ExtractedText holds the free-text blocks read from one offer detail page
type ExtractedText struct {
	MissionText       string
	ProfileText       string
	RawExperienceText string // only set when the line carries the experience marker
}

// Empty reports whether neither mission nor profile text was found
func (t ExtractedText) Empty() bool {
	return t.MissionText == "" && t.ProfileText == ""
}

// StructuredAttributes are the normalized attributes derived by the extraction model.
// All four fields are always populated together; nil slices are never returned.
type StructuredAttributes struct {
	HardSkills         []string `json:"hard_skills"`
	SoftSkills         []string `json:"soft_skills"`
	MinYearsExperience *int     `json:"years_experience_min"`
	Domains            []string `json:"domains"`
}

// EmptyAttributes returns attributes with empty skill and domain lists
func EmptyAttributes(years *int) StructuredAttributes {
	return StructuredAttributes{
		HardSkills:         []string{},
		SoftSkills:         []string{},
		MinYearsExperience: years,
		Domains:            []string{},
	}
}

// HasSkills reports whether at least one skill set is non-empty
func (a StructuredAttributes) HasSkills() bool {
	return len(a.HardSkills) > 0 || len(a.SoftSkills) > 0
}

// EnrichedOffer is a stub merged with its structured attributes
type EnrichedOffer struct {
	OfferStub
	StructuredAttributes

	Source    OfferSource `json:"source"`
	RunID     string      `json:"run_id,omitempty"`
	Outcome   Outcome     `json:"outcome"`
	CrawledAt time.Time   `json:"crawled_at"`
}

// Outcome tags how the structured attributes of an offer were obtained
type Outcome string

const (
	// OutcomeExtracted - the model returned a valid response
	OutcomeExtracted Outcome = "extracted"
	// OutcomeFailed - the retry budget was exhausted
	OutcomeFailed Outcome = "failed"
	// OutcomeIrrelevant - the search keyword was absent from the text, no model call
	OutcomeIrrelevant Outcome = "irrelevant"
	// OutcomeNoContent - the detail page had no mission or profile text
	OutcomeNoContent Outcome = "no_content"
)

// StopReason explains why a collection run ended
type StopReason string

const (
	StopNoOffers        StopReason = "noOffers"
	StopCapReached      StopReason = "capReached"
	StopLastPageReached StopReason = "lastPageReached"
	StopHardCapSafety   StopReason = "hardCapSafety"
	StopFetchError      StopReason = "fetchError"
	StopException       StopReason = "exception"
)

// CrawlState is the per-run pagination and accounting state, owned by the crawler
type CrawlState struct {
	CurrentPage        int `json:"current_page"`
	LastKnownPageCount int `json:"last_known_page_count"` // 0 until the first listing is parsed
	CollectedCount     int `json:"collected_count"`
	TargetCount        int `json:"target_count"`
	PagesProcessed     int `json:"pages_processed"`

	// Extraction outcome counters
	Extracted  int `json:"extracted"`
	Failed     int `json:"failed"`
	Irrelevant int `json:"irrelevant"`
	NoContent  int `json:"no_content"`
	Dropped    int `json:"dropped"`
}

// Remaining returns how many offers are still needed to reach the target
func (s CrawlState) Remaining() int {
	return s.TargetCount - s.CollectedCount
}

// Count records one extraction outcome
func (s *CrawlState) Count(o Outcome) {
	switch o {
	case OutcomeExtracted:
		s.Extracted++
	case OutcomeFailed:
		s.Failed++
	case OutcomeIrrelevant:
		s.Irrelevant++
	case OutcomeNoContent:
		s.NoContent++
	}
}

// ID is the stable identifier of an offer, derived from its detail URL
func (o EnrichedOffer) ID() string {
	if o.DetailURL == "" {
		return ""
	}
	h := sha256.Sum256([]byte(o.DetailURL))
	return hex.EncodeToString(h[:16])
}
