// Package dispatcher runs one crawl session by fanning frontier work out to a
// bounded pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/metrics"
	"github.com/JakeFAU/konduit/internal/worker"
)

// MaxConcurrency caps the worker pool of a single session.
const MaxConcurrency = 32

// Config controls one crawl session.
type Config struct {
	Concurrency int
	MaxDepth    int
	PageBudget  int
	Worker      worker.Config
}

// Deps are the collaborators a Coordinator hands to its workers.
type Deps struct {
	Store   crawler.PageStore
	Policy  crawler.PolicyGate
	Limiter crawler.HostLimiter
	Fetcher crawler.Fetcher
	Hasher  crawler.Hasher
	Clock   crawler.Clock
	IDs     crawler.IDGenerator
}

// Coordinator owns the lifecycle of one crawl session.
type Coordinator struct {
	cfg      Config
	deps     Deps
	frontier *crawler.Frontier
	session  *crawler.SessionState
	logger   *zap.Logger
}

// New builds a Coordinator for rootURL and seeds its frontier.
func New(rootURL string, cfg Config, deps Deps, logger *zap.Logger) (*Coordinator, error) {
	if deps.Store == nil || deps.Policy == nil || deps.Limiter == nil || deps.Fetcher == nil {
		return nil, errors.New("coordinator requires store, policy, limiter and fetcher")
	}
	if deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("coordinator requires hasher, clock and id generator")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Concurrency > MaxConcurrency {
		cfg.Concurrency = MaxConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	root, err := crawler.NormalizeURL(rootURL)
	if err != nil {
		return nil, err
	}
	frontier, err := crawler.NewFrontier(root, cfg.MaxDepth, cfg.PageBudget)
	if err != nil {
		return nil, fmt.Errorf("new frontier: %w", err)
	}
	id, err := deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("new session id: %w", err)
	}
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("parse root: %w", err)
	}
	frontier.Seed(root)

	return &Coordinator{
		cfg:      cfg,
		deps:     deps,
		frontier: frontier,
		session:  crawler.NewSessionState(id, root, u.Host, frontier.Domain(), cfg.PageBudget),
		logger:   logger.With(zap.String("session_id", id), zap.String("root", root)),
	}, nil
}

// Session returns a snapshot of the session.
func (c *Coordinator) Session() crawler.CrawlSession {
	return c.session.Snapshot()
}

// Store returns the page store the session writes to.
func (c *Coordinator) Store() crawler.PageStore {
	return c.deps.Store
}

// Run crawls until the budget is reached, the frontier drains, ctx is
// canceled, or a systemic fault occurs. It blocks until every worker has
// returned and the session is terminal.
func (c *Coordinator) Run(ctx context.Context) (crawler.CrawlSession, error) {
	if !c.session.Start(c.deps.Clock.Now()) {
		return c.session.Snapshot(), crawler.ErrSessionStarted
	}
	c.logger.Info("crawl started",
		zap.Int("concurrency", c.cfg.Concurrency),
		zap.Int("page_budget", c.cfg.PageBudget),
		zap.Int("max_depth", c.cfg.MaxDepth),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, c.frontier.Close)
	defer stop()

	var (
		faultOnce sync.Once
		fault     error
	)
	abort := func(err error) {
		faultOnce.Do(func() {
			fault = err
			c.frontier.Close()
			cancel()
		})
	}

	deps := worker.Deps{
		Session: c.session,
		Queue:   c.frontier,
		Store:   c.deps.Store,
		Policy:  c.deps.Policy,
		Limiter: c.deps.Limiter,
		Fetcher: c.deps.Fetcher,
		Hasher:  c.deps.Hasher,
		Clock:   c.deps.Clock,
		Abort:   abort,
	}

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(runCtx)
		}(worker.New(i, deps, c.cfg.Worker, c.logger))
	}
	wg.Wait()

	status, reason := crawler.SessionCompleted, ""
	switch {
	case fault != nil:
		status, reason = crawler.SessionAborted, fault.Error()
	case ctx.Err() != nil:
		status, reason = crawler.SessionAborted, fmt.Sprintf("canceled: %v", ctx.Err())
	}
	c.session.Finish(status, reason, c.frontier.External(), c.deps.Clock.Now())
	metrics.ObserveSession(string(status))

	snap := c.session.Snapshot()
	c.logger.Info("crawl finished",
		zap.String("status", string(snap.Status)),
		zap.Int("pages", snap.PagesStored),
		zap.Int("blocked", len(snap.Blocked)),
		zap.Int("errors", len(snap.Errors)),
		zap.Int("duplicates", snap.Duplicates),
		zap.Bool("budget_reached", c.frontier.BudgetReached()),
		zap.Int("unvisited", c.frontier.Size()),
		zap.String("reason", snap.AbortReason),
	)
	return snap, nil
}
