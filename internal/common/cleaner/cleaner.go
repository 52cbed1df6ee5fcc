package cleaner

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Cleaner turns job-board HTML fragments into plain text using Bluemonday
type Cleaner struct {
	policy *bluemonday.Policy
}

var (
	// Block-level boundaries that must survive as line breaks once tags are stripped
	blockBoundary = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|ul|ol|h[1-6]|tr)>`)
	listItemStart = regexp.MustCompile(`(?i)<li(\s[^>]*)?>`)
	spaceRun      = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// NewCleaner creates a cleaner that strips all HTML
func NewCleaner() *Cleaner {
	return &Cleaner{policy: bluemonday.StrictPolicy()}
}

// HTMLToText strips tags while keeping paragraph and list structure as newlines
func (c *Cleaner) HTMLToText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	s := listItemStart.ReplaceAllString(fragment, "\n- ")
	s = blockBoundary.ReplaceAllString(s, "\n")
	s = c.policy.Sanitize(s)
	// Bluemonday escapes entities in text nodes
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line == "" || line == "-" {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		out = append(out, line)
	}

	text := strings.Join(out, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// CleanText collapses all whitespace runs to single spaces
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
