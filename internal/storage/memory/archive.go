package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/konduit/internal/crawler"
)

// Archive keeps archived pages and embeddings in memory for development.
type Archive struct {
	mu         sync.RWMutex
	pages      map[string]crawler.PageRecord
	embeddings map[crawler.ChunkKey]archivedVector
}

type archivedVector struct {
	contentHash string
	vector      []float32
}

var _ crawler.Archive = (*Archive)(nil)

// NewArchive creates a new in-memory archive.
func NewArchive() *Archive {
	return &Archive{
		pages:      make(map[string]crawler.PageRecord),
		embeddings: make(map[crawler.ChunkKey]archivedVector),
	}
}

// SavePage upserts page by session and URL.
func (a *Archive) SavePage(_ context.Context, page crawler.PageRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pages[page.SessionID+" "+page.URL] = clonePage(page)
	return nil
}

// SaveEmbedding upserts the vector for key.
func (a *Archive) SaveEmbedding(_ context.Context, key crawler.ChunkKey, contentHash string, vector []float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.embeddings[key] = archivedVector{contentHash: contentHash, vector: append([]float32(nil), vector...)}
	return nil
}

// LoadEmbedding returns a copy of the vector archived for key and contentHash.
func (a *Archive) LoadEmbedding(_ context.Context, key crawler.ChunkKey, contentHash string) ([]float32, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.embeddings[key]
	if !ok || v.contentHash != contentHash {
		return nil, false, nil
	}
	return append([]float32(nil), v.vector...), true, nil
}

// Close is a no-op.
func (a *Archive) Close() error { return nil }
