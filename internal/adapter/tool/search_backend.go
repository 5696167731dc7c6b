package tool

import (
	"context"
	"fmt"
	"strings"
)

// SearchBackend abstracts a web search engine.
type SearchBackend interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
	Name() string
}

// SearchResult is one hit.
type SearchResult struct {
	Title   string
	URL     string
	Content string
}

// maxSearchBodySize bounds a backend response.
const maxSearchBodySize = 512 * 1024

// maxSnippetRunes bounds the content of one result.
const maxSnippetRunes = 600

// formatSearchResults renders hits as "[title]\ncontent\nurl" blocks
// separated by blank lines.
func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No search results found for %q.", query)
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		content := strings.TrimSpace(r.Content)
		if rs := []rune(content); len(rs) > maxSnippetRunes {
			content = string(rs[:maxSnippetRunes]) + "..."
		}
		blocks = append(blocks, fmt.Sprintf("[%s]\n%s\n%s", strings.TrimSpace(r.Title), content, r.URL))
	}
	return strings.Join(blocks, "\n\n")
}
