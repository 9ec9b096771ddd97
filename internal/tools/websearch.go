package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/genloop-ai/genloop/internal/config"
)

// WebSearchResult is one hit from the search API.
type WebSearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// WebSearchOutput is the payload returned to the model. Callers inspect it to
// record search quality and collect source citations.
type WebSearchOutput struct {
	Query   string            `json:"query"`
	Results []WebSearchResult `json:"results"`
}

// TopScore returns the relevance score of the best hit, 0 when empty.
func (o *WebSearchOutput) TopScore() float64 {
	var top float64
	for _, r := range o.Results {
		if r.Score > top {
			top = r.Score
		}
	}
	return top
}

// SearchClient queries an external web search API.
type SearchClient interface {
	Search(ctx context.Context, query string, numResults int) (*WebSearchOutput, error)
}

// HTTPSearchClient implements SearchClient against a JSON search endpoint.
type HTTPSearchClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewHTTPSearchClient(cfg config.SearchConfig) *HTTPSearchClient {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = "https://api.exa.ai/search"
	}
	return &HTTPSearchClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type searchAPIRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults,omitempty"`
}

type searchAPIResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Snippet string  `json:"snippet,omitempty"`
		Text    string  `json:"text,omitempty"`
		Score   float64 `json:"score,omitempty"`
	} `json:"results"`
}

func (c *HTTPSearchClient) Search(ctx context.Context, query string, numResults int) (*WebSearchOutput, error) {
	if numResults <= 0 {
		numResults = 10
	}

	jsonData, err := json.Marshal(searchAPIRequest{Query: query, NumResults: numResults})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	output := &WebSearchOutput{Query: query, Results: make([]WebSearchResult, len(apiResp.Results))}
	for i, r := range apiResp.Results {
		snippet := r.Snippet
		if snippet == "" && len(r.Text) > 200 {
			snippet = r.Text[:200] + "..."
		} else if snippet == "" {
			snippet = r.Text
		}
		output.Results[i] = WebSearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: snippet,
			Score:   r.Score,
		}
	}
	return output, nil
}

// WebSearchTool exposes the search client to the model.
type WebSearchTool struct {
	client     SearchClient
	numResults int
}

func NewWebSearchTool(client SearchClient, numResults int) *WebSearchTool {
	if numResults <= 0 {
		numResults = 10
	}
	return &WebSearchTool{client: client, numResults: numResults}
}

func (t *WebSearchTool) Name() string {
	return "webSearch"
}

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns a ranked list of results with titles, URLs and snippets."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query, err := stringParam(params, "query")
	if err != nil {
		return nil, err
	}
	return t.client.Search(ctx, query, t.numResults)
}
