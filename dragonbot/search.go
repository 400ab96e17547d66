package dragonbot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// noSearchResults is returned when the provider comes back empty, so the
// tool turn downstream always has non-empty content.
const noSearchResults = "No results found."

// SearchTool executes a single web-search call against the configured
// provider and renders the results as plain text usable as tool output.
type SearchTool struct {
	config     *SearchConfig
	httpClient *http.Client
	logger     *slog.Logger
}

type searchResponse struct {
	Web struct {
		Results []searchResult `json:"results"`
	} `json:"web"`
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func newSearchTool(
	config *SearchConfig,
	httpClient *http.Client,
	log *slog.Logger,
) *SearchTool {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &SearchTool{
		config:     config,
		httpClient: httpClient,
		logger:     log.With(loggerNameKey, "search"),
	}
}

// Search issues one GET to the search provider and renders each result as
// a three-line block, blocks separated by a blank line, in provider order.
// Provider errors propagate to the caller: a failed search inside the
// tool-calling hop should abort that hop visibly.
func (s *SearchTool) Search(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(s.config.ResultCount))

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s?%s", s.config.BaseURL, params.Encode()),
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("error creating search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(
		"Authorization",
		fmt.Sprintf("Bearer %s", s.config.APIKey),
	)

	s.logger.DebugContext(ctx, "searching", slog.String("query", query))
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf(
			"search request returned status %d",
			resp.StatusCode,
		)
	}

	var body searchResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("error decoding search response: %w", err)
	}

	results := body.Web.Results
	if len(results) == 0 {
		return noSearchResults, nil
	}

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(
			blocks,
			fmt.Sprintf(
				"Title: %s\nURL: %s\nSnippet: %s",
				r.Title,
				r.URL,
				r.Description,
			),
		)
	}
	s.logger.InfoContext(
		ctx,
		"search completed",
		slog.String("query", query),
		slog.Int("results", len(results)),
	)
	return strings.Join(blocks, "\n\n"), nil
}
