package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"regcollab/internal/config"
)

// Result is one ranked hit from the search index.
type Result struct {
	Content             string `json:"content"`
	MetadataStoragePath string `json:"metadata_storage_path"`
}

// Service issues a single ranked query against an external search index.
type Service interface {
	Search(ctx context.Context, query, filter string, top int) ([]Result, error)
}

// Client talks to an Azure-Cognitive-Search style REST endpoint.
type Client struct {
	endpoint string
	index    string
	apiKey   string
	http     *http.Client
}

const searchAPIVersion = "2023-11-01"

func NewClient(cfg config.SearchConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		index:    cfg.Index,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Search(ctx context.Context, query, filter string, top int) ([]Result, error) {
	body := map[string]any{
		"search": query,
		"top":    top,
	}
	if filter != "" {
		body["filter"] = filter
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	u := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s", c.endpoint, c.index, searchAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: status %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		Value []Result `json:"value"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Value, nil
}
