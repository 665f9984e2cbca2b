package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
	searchMaxResults    = 3
)

// SearchTool answers web queries through the Brave search API.
type SearchTool struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewSearchTool(apiKey string, timeout time.Duration) *SearchTool {
	return &SearchTool{
		apiKey:     apiKey,
		endpoint:   braveSearchEndpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Search the web for current information. Use for questions about recent events or facts you are unsure of."
}

func (t *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("missing query argument")
	}
	if t.apiKey == "" {
		return "", fmt.Errorf("search is not configured (no brave api key)")
	}

	reqURL := fmt.Sprintf("%s?q=%s&count=%d", t.endpoint, url.QueryEscape(query), searchMaxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	if len(decoded.Web.Results) == 0 {
		return "no results found", nil
	}

	var sb strings.Builder
	for i, r := range decoded.Web.Results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s", i+1, r.Title, r.URL, r.Description)
	}
	return sb.String(), nil
}
