package crawler

import (
	"sync"
	"time"
)

// FailedURL records a URL whose fetch ended in an error.
type FailedURL struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// CrawlSession identifies one crawl run for one root domain. It is mutated
// only by its coordinator and becomes read-only once terminal.
type CrawlSession struct {
	ID          string        `json:"id"`
	RootURL     string        `json:"root_url"`
	Host        string        `json:"host"`
	Domain      string        `json:"domain"`
	Status      SessionStatus `json:"status"`
	PageBudget  int           `json:"page_budget"`
	PagesStored int           `json:"pages_fetched"`
	Blocked     []string      `json:"blocked"`
	Errors      []FailedURL   `json:"errors,omitempty"`
	Duplicates  int           `json:"duplicates"`
	External    []string      `json:"external,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	AbortReason string        `json:"abort_reason,omitempty"`
}

// SessionState guards a CrawlSession shared by the workers of one coordinator.
type SessionState struct {
	mu      sync.Mutex
	session CrawlSession
}

// NewSessionState starts a session in the pending state.
func NewSessionState(id, rootURL, host, domain string, budget int) *SessionState {
	return &SessionState{session: CrawlSession{
		ID:         id,
		RootURL:    rootURL,
		Host:       host,
		Domain:     domain,
		Status:     SessionPending,
		PageBudget: budget,
		Blocked:    []string{},
	}}
}

// Start moves the session to running. It returns false if it already left pending.
func (s *SessionState) Start(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status != SessionPending {
		return false
	}
	s.session.Status = SessionRunning
	s.session.StartedAt = &now
	return true
}

// Block appends url to the ordered blocked list.
func (s *SessionState) Block(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status.Terminal() {
		return
	}
	s.session.Blocked = append(s.session.Blocked, url)
}

// Fail records a per-URL error.
func (s *SessionState) Fail(url, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status.Terminal() {
		return
	}
	s.session.Errors = append(s.session.Errors, FailedURL{URL: url, Reason: reason})
}

// Stored counts one more stored page.
func (s *SessionState) Stored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status.Terminal() {
		return
	}
	s.session.PagesStored++
}

// Duplicate counts a page skipped because its canonical URL was already stored.
func (s *SessionState) Duplicate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status.Terminal() {
		return
	}
	s.session.Duplicates++
}

// Finish moves the session to a terminal status.
func (s *SessionState) Finish(status SessionStatus, reason string, external []string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status.Terminal() {
		return
	}
	s.session.Status = status
	s.session.AbortReason = reason
	s.session.External = append([]string(nil), external...)
	s.session.EndedAt = &now
}

// Status returns the current lifecycle state.
func (s *SessionState) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Status
}

// Snapshot returns a deep copy of the session.
func (s *SessionState) Snapshot() CrawlSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.session
	out.Blocked = append([]string{}, s.session.Blocked...)
	out.Errors = append([]FailedURL(nil), s.session.Errors...)
	out.External = append([]string(nil), s.session.External...)
	return out
}
