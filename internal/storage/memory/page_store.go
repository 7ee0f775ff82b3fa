// Package memory holds crawl state in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/konduit/internal/crawler"
)

// PageStore is the authoritative store of one session's pages. Inserts are
// check-and-insert atomic per canonical URL and never overwrite.
type PageStore struct {
	mu      sync.RWMutex
	pages   []crawler.PageRecord
	byURL   map[string]int
	pending map[string]struct{}
	archive crawler.Archive
}

var _ crawler.PageStore = (*PageStore)(nil)

// NewPageStore constructs a PageStore. A non-nil archive receives every
// page before it becomes visible; archive failures fail the insert.
func NewPageStore(archive crawler.Archive) *PageStore {
	return &PageStore{
		byURL:   make(map[string]int),
		pending: make(map[string]struct{}),
		archive: archive,
	}
}

// Insert stores page, or returns crawler.ErrDuplicateURL if its URL is taken.
func (s *PageStore) Insert(ctx context.Context, page crawler.PageRecord) error {
	page = clonePage(page)

	s.mu.Lock()
	if _, ok := s.byURL[page.URL]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", crawler.ErrDuplicateURL, page.URL)
	}
	if _, ok := s.pending[page.URL]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", crawler.ErrDuplicateURL, page.URL)
	}
	if s.archive == nil {
		s.appendLocked(page)
		s.mu.Unlock()
		return nil
	}
	s.pending[page.URL] = struct{}{}
	s.mu.Unlock()

	err := s.archive.SavePage(ctx, page)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, page.URL)
	if err != nil {
		return fmt.Errorf("archive page %s: %w", page.URL, err)
	}
	s.appendLocked(page)
	return nil
}

func (s *PageStore) appendLocked(page crawler.PageRecord) {
	s.byURL[page.URL] = len(s.pages)
	s.pages = append(s.pages, page)
}

// Get fetches a page by canonical URL.
func (s *PageStore) Get(_ context.Context, url string) (crawler.PageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byURL[url]
	if !ok {
		return crawler.PageRecord{}, false
	}
	return clonePage(s.pages[idx]), true
}

// All returns every page in insertion order.
func (s *PageStore) All(_ context.Context) []crawler.PageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.PageRecord, len(s.pages))
	for i, p := range s.pages {
		out[i] = clonePage(p)
	}
	return out
}

// Len returns the number of stored pages.
func (s *PageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

func clonePage(p crawler.PageRecord) crawler.PageRecord {
	p.Links = append([]string(nil), p.Links...)
	return p
}
