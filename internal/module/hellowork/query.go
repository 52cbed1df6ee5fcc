package hellowork

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	BaseURL    = "https://www.hellowork.com"
	SearchPath = "/fr-fr/emploi/recherche.html"
)

// Query is the user-facing search: role keyword, location and optional contract type
type Query struct {
	Role     string
	Location string
	Contract string
}

// Normalized returns the query with surrounding whitespace removed
func (q Query) Normalized() Query {
	return Query{
		Role:     strings.TrimSpace(q.Role),
		Location: strings.TrimSpace(q.Location),
		Contract: strings.TrimSpace(q.Contract),
	}
}

// QueryBuilder turns a Query into search URLs
type QueryBuilder struct {
	baseURL    string
	searchPath string
}

func NewQueryBuilder(baseURL, searchPath string) *QueryBuilder {
	if baseURL == "" {
		baseURL = BaseURL
	}
	if searchPath == "" {
		searchPath = SearchPath
	}
	return &QueryBuilder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		searchPath: "/" + strings.TrimLeft(searchPath, "/"),
	}
}

// Build returns the search URL for page 1
func (b *QueryBuilder) Build(q Query) string {
	return b.PageURL(q, 1)
}

// PageURL returns the search URL for the given page.
// The site expects the parameters in this order and requires "c" even when empty.
func (b *QueryBuilder) PageURL(q Query, page int) string {
	q = q.Normalized()
	if page < 1 {
		page = 1
	}

	params := [][2]string{
		{"k", q.Role},
		{"l", q.Location},
		{"c", q.Contract},
		{"st", "relevance"},
		{"ray", "20"},
		{"d", "all"},
		{"p", strconv.Itoa(page)},
	}

	var sb strings.Builder
	sb.WriteString(b.baseURL)
	sb.WriteString(b.searchPath)
	for i, kv := range params {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString(kv[0])
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(kv[1]))
	}
	return sb.String()
}
