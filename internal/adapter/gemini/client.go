// Package gemini adapts the Google Generative Language API to the embedding
// and summarization capabilities.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/konduit/internal/crawler"
)

// Config selects the key and models.
type Config struct {
	APIKey         string
	EmbeddingModel string
	SummaryModel   string
}

// Client implements crawler.Embedder and crawler.Summarizer.
type Client struct {
	client       *genai.Client
	embedModel   string
	summaryModel string
	logger       *zap.Logger
}

var (
	_ crawler.Embedder   = (*Client)(nil)
	_ crawler.Summarizer = (*Client)(nil)
)

// New dials the API. Extra options are appended after the API key, which
// lets tests point the client at a local endpoint.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "gemini-embedding-001"
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = "gemini-1.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{
		client:       client,
		embedModel:   cfg.EmbeddingModel,
		summaryModel: cfg.SummaryModel,
		logger:       logger,
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Embed returns the vector of a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	c.logger.Debug("embedding content", zap.String("model", c.embedModel), zap.Int("length", len(text)))
	res, err := c.client.EmbeddingModel(c.embedModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("empty embedding received")
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts in one request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := c.client.EmbeddingModel(c.embedModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("batch embed contents: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("batch embed: got %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("batch embed: empty embedding at %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

// Summarize asks the generative model for a concise answer grounded in text.
func (c *Client) Summarize(ctx context.Context, query, text string) (string, error) {
	model := c.client.GenerativeModel(c.summaryModel)
	model.SetTemperature(0.2)
	prompt := fmt.Sprintf("Question: %s\n\nContext: %s\n\nProvide a concise answer based only on the context.", query, text)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return "", errors.New("empty summary received")
	}
	return summary, nil
}
