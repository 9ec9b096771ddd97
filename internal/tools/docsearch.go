package tools

import (
	"context"
)

// DocumentMatch is one hit from the local document index.
type DocumentMatch struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// DocumentSource searches documents the user has stored locally.
type DocumentSource interface {
	SearchDocuments(ctx context.Context, query string, limit int) ([]DocumentMatch, error)
}

// DocSearchTool searches the user's stored documents.
type DocSearchTool struct {
	source DocumentSource
	limit  int
}

func NewDocSearchTool(source DocumentSource, limit int) *DocSearchTool {
	if limit <= 0 {
		limit = 10
	}
	return &DocSearchTool{source: source, limit: limit}
}

func (t *DocSearchTool) Name() string {
	return "searchAll"
}

func (t *DocSearchTool) Description() string {
	return "Search across the user's stored documents and notes. Returns matching documents with titles and snippets."
}

func (t *DocSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Text to search for.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *DocSearchTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query, err := stringParam(params, "query")
	if err != nil {
		return nil, err
	}

	matches, err := t.source.SearchDocuments(ctx, query, t.limit)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []DocumentMatch{}
	}
	return map[string]interface{}{
		"query":   query,
		"matches": matches,
	}, nil
}
