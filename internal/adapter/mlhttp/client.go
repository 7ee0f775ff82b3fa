// Package mlhttp talks to an external JSON service for embeddings and
// query-focused summaries.
package mlhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/konduit/internal/crawler"
)

// Config points the client at a service.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client implements crawler.Embedder and crawler.Summarizer over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var (
	_ crawler.Embedder   = (*Client)(nil)
	_ crawler.Summarizer = (*Client)(nil)
)

// NewClient creates a reusable HTTP client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Embed returns the vector of a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp struct {
		Vectors [][]float32 `json:"vectors"`
	}
	if err := c.post(ctx, "/embed", map[string]any{"texts": texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Vectors) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(resp.Vectors), len(texts))
	}
	return resp.Vectors, nil
}

// Summarize requests a query-focused summary of text.
func (c *Client) Summarize(ctx context.Context, query, text string) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	payload := map[string]any{"query": query, "text": text}
	if err := c.post(ctx, "/summarize", payload, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Summary), nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
