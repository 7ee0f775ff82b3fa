package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/konduit/internal/crawler"
)

// SessionEntry pairs a finished crawl session with the pages it stored.
// Fallback is set when Pages came from a substitute crawl because the root
// yielded nothing.
type SessionEntry struct {
	Session  crawler.CrawlSession
	Fallback *crawler.CrawlSession
	Pages    *PageStore
}

// SessionStore keeps the most recent crawl session per canonical root URL.
type SessionStore struct {
	mu     sync.RWMutex
	byRoot map[string]SessionEntry
	byID   map[string]string
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		byRoot: make(map[string]SessionEntry),
		byID:   make(map[string]string),
	}
}

// Put records entry under its root URL, replacing any earlier session for that root.
func (s *SessionStore) Put(_ context.Context, entry SessionEntry) error {
	if entry.Session.RootURL == "" || entry.Session.ID == "" {
		return fmt.Errorf("session id and root url are required")
	}
	if entry.Pages == nil {
		entry.Pages = NewPageStore(nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byRoot[entry.Session.RootURL]; ok {
		delete(s.byID, prev.Session.ID)
	}
	s.byRoot[entry.Session.RootURL] = entry
	s.byID[entry.Session.ID] = entry.Session.RootURL
	return nil
}

// GetByRoot returns the session crawled for the canonical root URL.
func (s *SessionStore) GetByRoot(_ context.Context, root string) (SessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byRoot[root]
	if !ok {
		return SessionEntry{}, fmt.Errorf("%w: %s", crawler.ErrUnknownSession, root)
	}
	return entry, nil
}

// Get returns a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (SessionEntry, error) {
	s.mu.RLock()
	root, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return SessionEntry{}, fmt.Errorf("%w: id %s", crawler.ErrUnknownSession, id)
	}
	return s.GetByRoot(ctx, root)
}

// List returns every session snapshot ordered by root URL.
func (s *SessionStore) List(_ context.Context) []crawler.CrawlSession {
	s.mu.RLock()
	out := make([]crawler.CrawlSession, 0, len(s.byRoot))
	for _, entry := range s.byRoot {
		out = append(out, entry.Session)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RootURL < out[j].RootURL })
	return out
}
