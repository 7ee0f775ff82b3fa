// Package rank scores stored pages against a query by blending semantic
// similarity with lexical term frequency.
package rank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/konduit/internal/crawler"
)

// Vectors is the embedding surface the ranker reads from.
type Vectors interface {
	Available() bool
	Chunks(page crawler.PageRecord) []crawler.Chunk
	EmbedPages(ctx context.Context, pages []crawler.PageRecord) error
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Vector(key crawler.ChunkKey) ([]float32, bool)
}

// Config holds the blend weights and the score floor.
type Config struct {
	SemanticWeight float64
	KeywordWeight  float64
	MinScore       float64
}

// DefaultConfig returns the standard 0.6/0.4 blend.
func DefaultConfig() Config {
	return Config{SemanticWeight: 0.6, KeywordWeight: 0.4}
}

// Validate rejects negative or all-zero weights.
func (c Config) Validate() error {
	if c.SemanticWeight < 0 || c.KeywordWeight < 0 {
		return fmt.Errorf("rank weights must be non-negative, got semantic=%v keyword=%v", c.SemanticWeight, c.KeywordWeight)
	}
	if c.SemanticWeight+c.KeywordWeight == 0 {
		return errors.New("rank weights must not both be zero")
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("rank min score must be within [0,1], got %v", c.MinScore)
	}
	return nil
}

type tfEntry struct {
	hash string
	tf   map[string]int
}

// Ranker produces ordered ScoredResults. It is safe for concurrent use.
type Ranker struct {
	vectors  Vectors
	semantic float64
	keyword  float64
	minScore float64
	logger   *zap.Logger

	terms sync.Map // url -> tfEntry
}

// New validates cfg and re-normalizes the weights to sum to one. A nil
// vectors source ranks on keywords only.
func New(vectors Vectors, cfg Config, logger *zap.Logger) (*Ranker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sum := cfg.SemanticWeight + cfg.KeywordWeight
	return &Ranker{
		vectors:  vectors,
		semantic: cfg.SemanticWeight / sum,
		keyword:  cfg.KeywordWeight / sum,
		minScore: cfg.MinScore,
		logger:   logger,
	}, nil
}

// Rank scores every page in store against query.
func (r *Ranker) Rank(ctx context.Context, query string, store crawler.PageStore) ([]crawler.ScoredResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, crawler.ErrInvalidQuery
	}
	pages := store.All(ctx)
	if len(pages) == 0 {
		return []crawler.ScoredResult{}, nil
	}

	terms := queryTerms(query)
	qvec, degraded, err := r.semanticSignal(ctx, query, pages)
	if err != nil {
		return nil, err
	}
	if len(terms) == 0 && qvec == nil {
		return nil, fmt.Errorf("%w: no searchable terms in %q", crawler.ErrInvalidQuery, query)
	}

	raw := make([]float64, len(pages))
	maxRaw := 0.0
	for i, p := range pages {
		raw[i] = r.keywordRaw(p, terms)
		maxRaw = math.Max(maxRaw, raw[i])
	}

	out := make([]crawler.ScoredResult, 0, len(pages))
	for i, p := range pages {
		res := crawler.ScoredResult{
			SessionID: p.SessionID,
			URL:       p.URL,
			Title:     p.Title,
			Text:      p.Text,
			Degraded:  degraded,
		}
		if maxRaw > 0 {
			res.KeywordScore = raw[i] / maxRaw
		}
		res.Chunk, res.SemanticScore = r.bestChunk(p, qvec)
		if qvec == nil {
			res.FinalScore = res.KeywordScore
		} else {
			res.FinalScore = r.semantic*res.SemanticScore + r.keyword*res.KeywordScore
		}
		if res.FinalScore < r.minScore {
			continue
		}
		out = append(out, res)
	}
	sort.SliceStable(out, func(i, j int) bool { return crawler.Less(out[i], out[j]) })
	return out, nil
}

// RankAll ranks each store independently, merges the results by the same
// ordering and keeps the best topK. A URL held by more than one store is
// reported once, at its best position. topK <= 0 keeps everything.
func (r *Ranker) RankAll(ctx context.Context, query string, stores []crawler.PageStore, topK int) ([]crawler.ScoredResult, error) {
	merged := []crawler.ScoredResult{}
	for _, store := range stores {
		results, err := r.Rank(ctx, query, store)
		if err != nil {
			return nil, err
		}
		merged = append(merged, results...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return crawler.Less(merged[i], merged[j]) })
	seen := make(map[string]struct{}, len(merged))
	unique := merged[:0]
	for _, res := range merged {
		if _, dup := seen[res.URL]; dup {
			continue
		}
		seen[res.URL] = struct{}{}
		unique = append(unique, res)
	}
	merged = unique
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// semanticSignal embeds pages and query. A nil vector means the ranker runs
// keyword-only; degraded reports whether that is because embeddings were
// unavailable rather than a zero semantic weight.
func (r *Ranker) semanticSignal(ctx context.Context, query string, pages []crawler.PageRecord) (qvec []float32, degraded bool, err error) {
	if r.semantic == 0 {
		return nil, false, nil
	}
	if r.vectors == nil || !r.vectors.Available() {
		return nil, true, nil
	}
	if err := r.vectors.EmbedPages(ctx, pages); err != nil {
		return r.degrade(ctx, err)
	}
	qvec, err = r.vectors.EmbedQuery(ctx, query)
	if err != nil {
		return r.degrade(ctx, err)
	}
	return qvec, false, nil
}

func (r *Ranker) degrade(ctx context.Context, err error) ([]float32, bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, false, ctxErr
	}
	if errors.Is(err, crawler.ErrCapabilityUnavailable) {
		r.logger.Warn("embeddings unavailable, ranking on keywords only", zap.Error(err))
		return nil, true, nil
	}
	return nil, false, err
}

func (r *Ranker) keywordRaw(page crawler.PageRecord, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	tf := r.termFrequencies(page)
	score := 0.0
	for _, t := range terms {
		if n := tf[t]; n > 0 {
			score += 1 + math.Log(float64(n))
		}
	}
	return score
}

func (r *Ranker) termFrequencies(page crawler.PageRecord) map[string]int {
	if v, ok := r.terms.Load(page.URL); ok {
		if e := v.(tfEntry); e.hash == page.ContentHash {
			return e.tf
		}
	}
	tf := termFrequencies(page.Title + " " + page.Text)
	r.terms.Store(page.URL, tfEntry{hash: page.ContentHash, tf: tf})
	return tf
}

// bestChunk returns the chunk most similar to qvec and its semantic score.
// Without a query vector it returns the first chunk and zero.
func (r *Ranker) bestChunk(page crawler.PageRecord, qvec []float32) (crawler.Chunk, float64) {
	var chunks []crawler.Chunk
	if r.vectors != nil {
		chunks = r.vectors.Chunks(page)
	}
	if len(chunks) == 0 {
		return crawler.Chunk{URL: page.URL}, 0
	}
	best, bestScore := chunks[0], 0.0
	if qvec == nil {
		return best, 0
	}
	found := false
	for _, c := range chunks {
		vec, ok := r.vectors.Vector(c.Key())
		if !ok {
			continue
		}
		cos, ok := cosine(qvec, vec)
		if !ok {
			continue
		}
		score := clamp01((cos + 1) / 2)
		if !found || score > bestScore {
			best, bestScore, found = c, score, true
		}
	}
	return best, bestScore
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
