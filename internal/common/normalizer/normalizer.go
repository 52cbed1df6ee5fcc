package normalizer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

var firstNumber = regexp.MustCompile(`\d+`)

// Skills trims, lower-cases and deduplicates a skill list, sorted.
// Never returns nil.
func Skills(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(collapse(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Domains trims and deduplicates case-insensitively, keeping the model's order
// and the first spelling seen. Never returns nil.
func Domains(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = collapse(s)
		if s == "" {
			continue
		}
		key := Fold(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Fold returns the Unicode case-folded form of s for case-insensitive comparison
func Fold(s string) string {
	// Casers are stateful; one per call
	return cases.Fold().String(s)
}

// ContainsFold reports whether needle occurs in haystack ignoring case
func ContainsFold(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

// FirstInt returns the first run of digits in s
func FirstInt(s string) (int, bool) {
	m := firstNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
