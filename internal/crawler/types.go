// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// SessionStatus represents the lifecycle state of a crawl session.
type SessionStatus string

// Session status values.
const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAborted
}

// FetchStatus classifies the outcome of a single page visit.
type FetchStatus string

// Fetch status values recorded on pages and outcomes.
const (
	FetchSuccess          FetchStatus = "success"
	FetchBlocked          FetchStatus = "blocked"
	FetchError            FetchStatus = "error"
	FetchSkippedDuplicate FetchStatus = "skipped_duplicate"
)

// PageRecord is one cleaned page stored for a session. Records are never
// mutated after insertion.
type PageRecord struct {
	SessionID   string      `json:"session_id"`
	URL         string      `json:"url"`
	Title       string      `json:"title,omitempty"`
	Text        string      `json:"text"`
	Links       []string    `json:"links,omitempty"`
	Status      FetchStatus `json:"status"`
	StatusCode  int         `json:"status_code"`
	Bytes       int         `json:"bytes"`
	ContentHash string      `json:"content_hash"`
	Depth       int         `json:"depth"`
	FetchedAt   time.Time   `json:"fetched_at"`
}

// FetchOutcome is the classified result of a single GET.
type FetchOutcome struct {
	Status      FetchStatus
	StatusCode  int
	Body        []byte
	FinalURL    string
	ContentType string
	UserAgent   string
	Duration    time.Duration
	Err         error
}

// QueueItem is a frontier entry handed to a worker. URL is the canonical
// key; Link is the absolute URL as discovered, which keeps the trailing
// slash that robots.txt rules may depend on.
type QueueItem struct {
	URL   string
	Link  string
	Depth int
}

// Target returns the URL to request.
func (i QueueItem) Target() string {
	if i.Link != "" {
		return i.Link
	}
	return i.URL
}

// Chunk is a bounded slice of a page's text and the unit of embedding.
type Chunk struct {
	URL   string `json:"url"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// ChunkKey identifies an embedding in the cache.
type ChunkKey struct {
	URL    string
	Offset int
}

// Key returns the cache key for the chunk.
func (c Chunk) Key() ChunkKey {
	return ChunkKey{URL: c.URL, Offset: c.Start}
}

// ScoredResult is one ranked page for a query. It is recomputed per query.
type ScoredResult struct {
	SessionID     string  `json:"session_id,omitempty"`
	URL           string  `json:"url"`
	Title         string  `json:"title,omitempty"`
	SemanticScore float64 `json:"semantic_score"`
	KeywordScore  float64 `json:"keyword_score"`
	FinalScore    float64 `json:"final_score"`
	Chunk         Chunk   `json:"chunk"`
	Degraded      bool    `json:"degraded,omitempty"`
	Text          string  `json:"-"`
}

// Less reports whether a ranks ahead of b: higher final score, then higher
// semantic score, then lexicographically smaller URL.
func Less(a, b ScoredResult) bool {
	if a.FinalScore != b.FinalScore {
		return a.FinalScore > b.FinalScore
	}
	if a.SemanticScore != b.SemanticScore {
		return a.SemanticScore > b.SemanticScore
	}
	return a.URL < b.URL
}
