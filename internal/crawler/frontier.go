package crawler

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// OfferResult explains what the frontier did with an offered URL.
type OfferResult int

// Offer outcomes.
const (
	OfferEnqueued OfferResult = iota
	OfferDuplicate
	OfferExternal
	OfferTooDeep
	OfferInvalid
	OfferClosed
	OfferBudgetReached
)

func (r OfferResult) String() string {
	switch r {
	case OfferEnqueued:
		return "enqueued"
	case OfferDuplicate:
		return "duplicate"
	case OfferExternal:
		return "external"
	case OfferTooDeep:
		return "too_deep"
	case OfferInvalid:
		return "invalid"
	case OfferClosed:
		return "closed"
	case OfferBudgetReached:
		return "budget_reached"
	default:
		return "unknown"
	}
}

// Frontier is the crawl work queue of one session. It scopes URLs to the
// root's registrable domain, enqueues each canonical URL at most once, and
// enforces the max depth and the page budget. Safe for concurrent use.
type Frontier struct {
	mu       sync.Mutex
	domain   string
	maxDepth int
	budget   int

	queue    []QueueItem
	seen     map[string]struct{}
	external map[string]struct{}
	reserved int
	stored   int
	closed   bool
	changed  chan struct{}
}

// NewFrontier builds a frontier scoped to rootURL's registrable domain.
func NewFrontier(rootURL string, maxDepth, budget int) (*Frontier, error) {
	canonical, err := NormalizeURL(rootURL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return nil, fmt.Errorf("parse root: %w", err)
	}
	if budget <= 0 {
		return nil, fmt.Errorf("page budget must be > 0, got %d", budget)
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Frontier{
		domain:   RegistrableDomain(u.Host),
		maxDepth: maxDepth,
		budget:   budget,
		seen:     make(map[string]struct{}),
		external: make(map[string]struct{}),
		changed:  make(chan struct{}),
	}, nil
}

// Domain returns the registrable domain the frontier is scoped to.
func (f *Frontier) Domain() string {
	return f.domain
}

// Seed enqueues the given URLs at depth zero.
func (f *Frontier) Seed(urls ...string) int {
	n := 0
	for _, raw := range urls {
		if f.Offer(raw, -1) == OfferEnqueued {
			n++
		}
	}
	return n
}

// Offer admits rawURL discovered on a page at fromDepth. Seeds use -1.
func (f *Frontier) Offer(rawURL string, fromDepth int) OfferResult {
	canonical, err := NormalizeURL(rawURL)
	if err != nil {
		return OfferInvalid
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return OfferInvalid
	}
	depth := fromDepth + 1

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return OfferClosed
	}
	if RegistrableDomain(u.Host) != f.domain {
		f.external[canonical] = struct{}{}
		return OfferExternal
	}
	if depth > f.maxDepth {
		return OfferTooDeep
	}
	if _, ok := f.seen[canonical]; ok {
		return OfferDuplicate
	}
	if f.stored >= f.budget {
		return OfferBudgetReached
	}
	f.seen[canonical] = struct{}{}
	f.queue = append(f.queue, QueueItem{URL: canonical, Link: strings.TrimSpace(rawURL), Depth: depth})
	f.broadcast()
	return OfferEnqueued
}

// Next hands out the next URL and reserves one budget slot for it. It blocks
// while the queue is empty but fetches are in flight, and returns false once
// the budget is reached, the frontier is drained or closed, or ctx ends.
func (f *Frontier) Next(ctx context.Context) (QueueItem, bool) {
	for {
		f.mu.Lock()
		if f.closed || f.stored >= f.budget {
			f.mu.Unlock()
			return QueueItem{}, false
		}
		if len(f.queue) > 0 && f.stored+f.reserved < f.budget {
			item := f.queue[0]
			f.queue[0] = QueueItem{}
			f.queue = f.queue[1:]
			f.reserved++
			f.mu.Unlock()
			return item, true
		}
		if len(f.queue) == 0 && f.reserved == 0 {
			f.mu.Unlock()
			return QueueItem{}, false
		}
		wait := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return QueueItem{}, false
		case <-wait:
		}
	}
}

// Done releases the reservation taken by Next. stored reports whether the
// item produced a page that counts against the budget.
func (f *Frontier) Done(_ QueueItem, stored bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserved > 0 {
		f.reserved--
	}
	if stored {
		f.stored++
	}
	f.broadcast()
}

// Close stops handing out work; in-flight items may still call Done.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.broadcast()
}

// Size returns the number of queued, not yet handed out, URLs.
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// BudgetReached reports whether the page budget has been consumed.
func (f *Frontier) BudgetReached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored >= f.budget
}

// External returns the sorted cross-domain URLs seen during the crawl.
func (f *Frontier) External() []string {
	f.mu.Lock()
	out := make([]string, 0, len(f.external))
	for u := range f.external {
		out = append(out, u)
	}
	f.mu.Unlock()
	sort.Strings(out)
	return out
}

// broadcast wakes every waiter in Next. Callers hold f.mu.
func (f *Frontier) broadcast() {
	close(f.changed)
	f.changed = make(chan struct{})
}
