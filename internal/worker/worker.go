// Package worker implements the per-URL crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/extract"
	"github.com/JakeFAU/konduit/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// FetchTimeout bounds a single fetch. Fetch contexts ignore cancellation
	// of the crawl so in-flight pages finish, but never outlive this timeout.
	FetchTimeout time.Duration
	// RobotsAgent is the product token matched against robots.txt groups.
	RobotsAgent string
}

// Deps are the collaborators shared by the workers of one session.
type Deps struct {
	Session *crawler.SessionState
	Queue   crawler.Queue
	Store   crawler.PageStore
	Policy  crawler.PolicyGate
	Limiter crawler.HostLimiter
	Fetcher crawler.Fetcher
	Hasher  crawler.Hasher
	Clock   crawler.Clock
	// Abort reports a systemic fault that must end the session.
	Abort func(error)
}

// Worker consumes frontier items and executes the fetch pipeline.
type Worker struct {
	id     int
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.RobotsAgent == "" {
		cfg.RobotsAgent = "konduit"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Abort == nil {
		deps.Abort = func(error) {}
	}
	return &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming frontier items until the frontier is exhausted,
// closed, or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, ok := w.deps.Queue.Next(ctx)
		if !ok {
			return
		}
		metrics.IncActiveWorkers()
		stored := w.process(ctx, item)
		metrics.DecActiveWorkers()
		w.deps.Queue.Done(item, stored)
	}
}

// process handles one URL and reports whether a page was stored.
func (w *Worker) process(ctx context.Context, item crawler.QueueItem) (stored bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("page processing panicked",
				zap.String("url", item.URL),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			w.deps.Session.Fail(item.URL, fmt.Sprintf("panic: %v", r))
			stored = false
		}
	}()

	if !w.permitted(ctx, item) {
		metrics.ObserveFetch(item.URL, string(crawler.FetchBlocked), 0, 0)
		w.block(item.URL, "robots.txt")
		return false
	}

	host := crawler.HostOf(item.URL)
	w.deps.Limiter.SetHostDelay(host, w.deps.Policy.CrawlDelay(ctx, item.URL, w.cfg.RobotsAgent))
	if err := w.deps.Limiter.Wait(ctx, item.URL); err != nil {
		w.logger.Debug("politeness wait interrupted", zap.String("url", item.URL), zap.Error(err))
		return false
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FetchTimeout)
	defer cancel()
	outcome, err := w.deps.Fetcher.Fetch(fetchCtx, item.Target())
	if err != nil {
		w.fail(item.URL, err)
		return false
	}
	metrics.ObserveFetch(item.URL, string(outcome.Status), len(outcome.Body), outcome.Duration)

	switch outcome.Status {
	case crawler.FetchSuccess:
		return w.storePage(ctx, item, outcome)
	case crawler.FetchBlocked:
		if errors.Is(outcome.Err, crawler.ErrDisallowed) {
			blocked := item.URL
			if canonical, err := crawler.NormalizeURL(outcome.FinalURL); err == nil {
				blocked = canonical
			}
			w.block(blocked, "robots.txt on redirect")
			return false
		}
		w.block(item.URL, fmt.Sprintf("status %d", outcome.StatusCode))
	default:
		reason := outcome.Err
		if reason == nil {
			reason = fmt.Errorf("%w: status %d", crawler.ErrFetch, outcome.StatusCode)
		}
		w.fail(item.URL, reason)
	}
	return false
}

// permitted checks the canonical key and the link as discovered, since
// normalization drops the trailing slash a Disallow rule may match on.
func (w *Worker) permitted(ctx context.Context, item crawler.QueueItem) bool {
	if !w.deps.Policy.Permitted(ctx, item.URL, w.cfg.RobotsAgent) {
		return false
	}
	if item.Link == "" || item.Link == item.URL {
		return true
	}
	return w.deps.Policy.Permitted(ctx, item.Link, w.cfg.RobotsAgent)
}

func (w *Worker) storePage(ctx context.Context, item crawler.QueueItem, outcome crawler.FetchOutcome) bool {
	session := w.deps.Session.Snapshot()
	pageURL := item.URL
	if outcome.FinalURL != "" {
		if canonical, err := crawler.NormalizeURL(outcome.FinalURL); err == nil {
			pageURL = canonical
		}
	}
	if pageURL != item.URL {
		if !crawler.SameSite(crawler.HostOf(pageURL), session.Domain) {
			w.fail(item.URL, fmt.Errorf("%w: redirected outside %s to %s", crawler.ErrFetch, session.Domain, pageURL))
			return false
		}
		if !w.deps.Policy.Permitted(ctx, pageURL, w.cfg.RobotsAgent) {
			w.block(pageURL, "robots.txt after redirect")
			return false
		}
	}

	doc, err := extract.Parse(pageURL, outcome.Body)
	if err != nil {
		w.fail(item.URL, fmt.Errorf("%w: %w", crawler.ErrFetch, err))
		return false
	}
	hash, err := w.deps.Hasher.Hash(outcome.Body)
	if err != nil {
		w.fail(item.URL, fmt.Errorf("hash body: %w", err))
		return false
	}

	links := make([]string, 0, len(doc.Links))
	for _, link := range doc.Links {
		if crawler.SameSite(crawler.HostOf(link), session.Domain) {
			links = append(links, link)
		}
	}

	page := crawler.PageRecord{
		SessionID:   session.ID,
		URL:         pageURL,
		Title:       doc.Title,
		Text:        doc.Text,
		Links:       links,
		Status:      crawler.FetchSuccess,
		StatusCode:  outcome.StatusCode,
		Bytes:       len(outcome.Body),
		ContentHash: hash,
		Depth:       item.Depth,
		FetchedAt:   w.deps.Clock.Now(),
	}
	if err := w.deps.Store.Insert(context.WithoutCancel(ctx), page); err != nil {
		if errors.Is(err, crawler.ErrDuplicateURL) {
			w.deps.Session.Duplicate()
			w.logger.Debug("page already stored", zap.String("url", item.URL), zap.String("final_url", pageURL))
			return false
		}
		w.logger.Error("page store insert failed", zap.String("url", pageURL), zap.Error(err))
		w.deps.Abort(fmt.Errorf("page store: %w", err))
		return false
	}
	w.deps.Session.Stored()
	w.logger.Debug("page stored",
		zap.String("url", pageURL),
		zap.Int("depth", item.Depth),
		zap.Int("bytes", page.Bytes),
		zap.Int("links", len(doc.Links)),
	)

	// Every discovered link goes to the frontier so cross-domain ones are recorded as external.
	for _, link := range doc.Links {
		w.deps.Queue.Offer(link, item.Depth)
	}
	return true
}

func (w *Worker) block(url, reason string) {
	w.deps.Session.Block(url)
	w.logger.Info("url blocked", zap.String("url", url), zap.String("reason", reason))
}

func (w *Worker) fail(url string, err error) {
	w.deps.Session.Fail(url, err.Error())
	w.logger.Warn("url failed", zap.String("url", url), zap.Error(err))
}
