// Package index chunks stored pages and caches their embeddings.
package index

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/metrics"
)

// Config controls chunking and batching.
type Config struct {
	ChunkChars   int
	MinTextChars int
	BatchSize    int
}

type chunkEntry struct {
	hash   string
	chunks []crawler.Chunk
}

// Index owns the chunk, chunk-embedding, and query-embedding caches. Cache
// entries may be computed twice under contention; the last write wins.
type Index struct {
	embedder crawler.Embedder
	archive  crawler.Archive
	cfg      Config
	logger   *zap.Logger

	chunks  sync.Map // url -> chunkEntry
	vectors sync.Map // crawler.ChunkKey -> []float32
	queries sync.Map // query -> []float32
}

// New builds an Index. A nil embedder disables semantic scoring; a nil
// archive disables read-through and write-through of embeddings.
func New(embedder crawler.Embedder, archive crawler.Archive, cfg Config, logger *zap.Logger) *Index {
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = 300
	}
	if cfg.MinTextChars < 0 {
		cfg.MinTextChars = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{embedder: embedder, archive: archive, cfg: cfg, logger: logger}
}

// Available reports whether an embedder is configured.
func (ix *Index) Available() bool {
	return ix.embedder != nil
}

// Chunks returns the chunks of page, computing them once per URL and content hash.
func (ix *Index) Chunks(page crawler.PageRecord) []crawler.Chunk {
	if v, ok := ix.chunks.Load(page.URL); ok {
		entry := v.(chunkEntry)
		if entry.hash == page.ContentHash {
			return entry.chunks
		}
		for _, c := range entry.chunks {
			ix.vectors.Delete(c.Key())
		}
	}
	chunks := ChunkText(page.URL, page.Text, ix.cfg.ChunkChars, ix.cfg.MinTextChars)
	ix.chunks.Store(page.URL, chunkEntry{hash: page.ContentHash, chunks: chunks})
	return chunks
}

// Vector returns the cached embedding of a chunk.
func (ix *Index) Vector(key crawler.ChunkKey) ([]float32, bool) {
	v, ok := ix.vectors.Load(key)
	if !ok {
		return nil, false
	}
	return v.([]float32), true
}

type pendingChunk struct {
	chunk       crawler.Chunk
	contentHash string
}

// EmbedPages embeds every chunk of pages that has no cached vector, in
// batches. Vectors archived for the same page content are reused before the
// embedder is called. It returns crawler.ErrCapabilityUnavailable when the
// embedder is missing or fails.
func (ix *Index) EmbedPages(ctx context.Context, pages []crawler.PageRecord) error {
	if ix.embedder == nil {
		return fmt.Errorf("%w: no embedder configured", crawler.ErrCapabilityUnavailable)
	}

	var pending []pendingChunk
	queued := make(map[crawler.ChunkKey]struct{})
	for _, page := range pages {
		for _, c := range ix.Chunks(page) {
			key := c.Key()
			if _, ok := ix.vectors.Load(key); ok {
				continue
			}
			if _, ok := queued[key]; ok {
				continue
			}
			if ix.loadArchived(ctx, key, page.ContentHash) {
				continue
			}
			queued[key] = struct{}{}
			pending = append(pending, pendingChunk{chunk: c, contentHash: page.ContentHash})
		}
	}

	for start := 0; start < len(pending); start += ix.cfg.BatchSize {
		end := min(start+ix.cfg.BatchSize, len(pending))
		if err := ix.embedBatch(ctx, pending[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// loadArchived copies an archived vector into the cache and reports whether one was found.
func (ix *Index) loadArchived(ctx context.Context, key crawler.ChunkKey, contentHash string) bool {
	if ix.archive == nil {
		return false
	}
	vec, ok, err := ix.archive.LoadEmbedding(ctx, key, contentHash)
	if err != nil {
		ix.logger.Warn("archive embedding lookup failed", zap.String("url", key.URL), zap.Int("offset", key.Offset), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	ix.vectors.Store(key, vec)
	return true
}

func (ix *Index) embedBatch(ctx context.Context, batch []pendingChunk) error {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.chunk.Text
	}
	started := time.Now()
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	metrics.ObserveEmbedBatch(len(batch), time.Since(started), err)
	if err != nil {
		return fmt.Errorf("%w: embed batch: %w", crawler.ErrCapabilityUnavailable, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: embedder returned %d vectors for %d chunks",
			crawler.ErrCapabilityUnavailable, len(vectors), len(batch))
	}
	for i, p := range batch {
		key := p.chunk.Key()
		ix.vectors.Store(key, vectors[i])
		if ix.archive == nil {
			continue
		}
		if err := ix.archive.SaveEmbedding(ctx, key, p.contentHash, vectors[i]); err != nil {
			ix.logger.Warn("archive embedding failed", zap.String("url", key.URL), zap.Int("offset", key.Offset), zap.Error(err))
		}
	}
	ix.logger.Debug("embedded chunk batch", zap.Int("chunks", len(batch)), zap.Duration("elapsed", time.Since(started)))
	return nil
}

// EmbedQuery returns the cached or freshly computed embedding of query.
func (ix *Index) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, crawler.ErrInvalidQuery
	}
	if v, ok := ix.queries.Load(query); ok {
		return v.([]float32), nil
	}
	if ix.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", crawler.ErrCapabilityUnavailable)
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", crawler.ErrCapabilityUnavailable, err)
	}
	ix.queries.Store(query, vec)
	return vec, nil
}
