package structured

import (
	"strings"

	"github.com/project-tktt/offer-collector/internal/common/normalizer"
	"github.com/project-tktt/offer-collector/internal/domain"
)

const promptTemplate = `You extract information from job offers.
Reply with valid JSON only. No markdown. No prose.

Rules:
- Never invent anything. Use only what the text says.
- If a value is absent: null or [].
- Deduplicate and trim every list, and use the same case for every skill.
- Use EXACTLY the keys below, no more, no less.

Expected JSON:
{
  "hard_skills": [],
  "soft_skills": [],
  "years_experience_min": null,
  "domains": []
}

Text:
"""%TEXT%"""`

// OfferText joins the mission and profile blocks into the text sent to the model.
// Returns "" when both are empty.
func OfferText(t domain.ExtractedText) string {
	var parts []string
	if t.MissionText != "" {
		parts = append(parts, "mission: "+t.MissionText)
	}
	if t.ProfileText != "" {
		parts = append(parts, "profil recherché: "+t.ProfileText)
	}
	return strings.Join(parts, "\n")
}

// BuildPrompt wraps offer text in the extraction instructions
func BuildPrompt(offerText string) string {
	return strings.Replace(promptTemplate, "%TEXT%", offerText, 1)
}

// FallbackYears pulls the first integer out of the raw experience line, if any
func FallbackYears(t domain.ExtractedText) *int {
	if t.RawExperienceText == "" {
		return nil
	}
	n, ok := normalizer.FirstInt(t.RawExperienceText)
	if !ok {
		return nil
	}
	return &n
}

// Relevant reports whether keyword occurs in text, ignoring case.
// An empty keyword matches everything.
func Relevant(text, keyword string) bool {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return true
	}
	return normalizer.ContainsFold(text, keyword)
}
