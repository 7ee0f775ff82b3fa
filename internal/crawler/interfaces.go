package crawler

import (
	"context"
	"time"
)

// PageStore holds the cleaned pages of one session.
type PageStore interface {
	Insert(ctx context.Context, page PageRecord) error
	Get(ctx context.Context, url string) (PageRecord, bool)
	All(ctx context.Context) []PageRecord
	Len() int
}

// Archive persists pages and embeddings as a rebuildable cache. Embeddings
// are tagged with the content hash of their page so stale vectors are never
// served after the page changes.
type Archive interface {
	SavePage(ctx context.Context, page PageRecord) error
	SaveEmbedding(ctx context.Context, key ChunkKey, contentHash string, vector []float32) error
	LoadEmbedding(ctx context.Context, key ChunkKey, contentHash string) ([]float32, bool, error)
	Close() error
}

// Fetcher performs one bounded GET and classifies the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchOutcome, error)
}

// PolicyGate answers robots.txt questions per host.
type PolicyGate interface {
	Permitted(ctx context.Context, rawURL string, userAgent string) bool
	CrawlDelay(ctx context.Context, rawURL string, userAgent string) time.Duration
}

// HostLimiter spaces requests to the same host.
type HostLimiter interface {
	SetHostDelay(host string, delay time.Duration)
	Wait(ctx context.Context, rawURL string) error
}

// Queue is the work source consumed by crawl workers.
type Queue interface {
	Next(ctx context.Context) (QueueItem, bool)
	Done(item QueueItem, stored bool)
	Offer(rawURL string, fromDepth int) OfferResult
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Summarizer compresses ranked text into a query-focused answer.
type Summarizer interface {
	Summarize(ctx context.Context, query string, text string) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
