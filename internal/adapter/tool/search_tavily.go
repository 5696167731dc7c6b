package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sparkie/internal/domain"
)

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// TavilyBackend searches through the Tavily search API.
type TavilyBackend struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   *slog.Logger
}

// NewTavilyBackend creates a Tavily backend.
func NewTavilyBackend(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *TavilyBackend {
	return &TavilyBackend{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger,
	}
}

func (b *TavilyBackend) Name() string { return "tavily" }

func (b *TavilyBackend) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	payload, err := json.Marshal(tavilyRequest{Query: query, MaxResults: count, SearchDepth: "basic"})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: tavily rejected the API key", domain.ErrAuthInvalid)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: tavily", domain.ErrRateLimit)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: tavily HTTP %d", domain.ErrServerError, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("search failed (HTTP %d): %s", resp.StatusCode, truncateBody(body))
	}

	var tr tavilyResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	results := make([]SearchResult, 0, len(tr.Results))
	for _, r := range tr.Results {
		if len(results) >= count {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	b.logger.DebugContext(ctx, "tavily search completed", "results", len(results))
	return results, nil
}
