// Package search ties crawling, ranking and summarization together behind
// the two operations the API and CLI expose.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/dispatcher"
	"github.com/JakeFAU/konduit/internal/metrics"
	"github.com/JakeFAU/konduit/internal/rank"
	"github.com/JakeFAU/konduit/internal/storage/memory"
	"github.com/JakeFAU/konduit/internal/telemetry"
)

var tracer = telemetry.Tracer("search")

// MaxRoots is the number of domains one request may name.
const MaxRoots = 2

// Config controls crawling and result shaping.
type Config struct {
	Crawl             dispatcher.Config
	TopK              int
	SummaryTopK       int
	SummaryMaxChars   int
	SummaryTimeout    time.Duration
	WikipediaFallback bool
	WikipediaBaseURL  string
	FallbackBudget    int
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 7
	}
	if c.SummaryTopK <= 0 {
		c.SummaryTopK = 3
	}
	if c.SummaryMaxChars <= 0 {
		c.SummaryMaxChars = 12000
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 60 * time.Second
	}
	if c.WikipediaBaseURL == "" {
		c.WikipediaBaseURL = "https://en.wikipedia.org/wiki/"
	}
	if c.FallbackBudget <= 0 {
		c.FallbackBudget = 2
	}
}

// Deps are the shared collaborators of every session the service runs.
// Vectors, Summarizer and Archive may be nil.
type Deps struct {
	Sessions   *memory.SessionStore
	Archive    crawler.Archive
	Policy     crawler.PolicyGate
	Limiter    crawler.HostLimiter
	Fetcher    crawler.Fetcher
	Hasher     crawler.Hasher
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Ranker     *rank.Ranker
	Vectors    rank.Vectors
	Summarizer crawler.Summarizer
}

// CrawlReport summarizes one crawl request.
type CrawlReport struct {
	Success  bool                   `json:"success"`
	Pages    int                    `json:"pages"`
	Sessions []crawler.CrawlSession `json:"sessions"`
	Blocked  []string               `json:"blocked"`
	Message  string                 `json:"message"`
}

// Query is a validated search request.
type Query struct {
	Text  string
	Roots []string
	Smart bool
}

// SearchReport is the answer to one Query.
type SearchReport struct {
	Success  bool                   `json:"success"`
	Results  []crawler.ScoredResult `json:"results"`
	Summary  string                 `json:"summary,omitempty"`
	Blocked  []string               `json:"blocked"`
	Degraded bool                   `json:"degraded"`
}

// Service runs crawls and answers queries over their sessions.
type Service struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates deps and builds a Service.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	if deps.Sessions == nil || deps.Ranker == nil {
		return nil, errors.New("search service requires a session store and a ranker")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, deps: deps, logger: logger}, nil
}

// Roots trims, drops blanks and normalizes up to MaxRoots root URLs.
func Roots(raw ...string) ([]string, error) {
	var out []string
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		norm, err := crawler.NormalizeURL(r)
		if err != nil {
			return nil, err
		}
		out = append(out, norm)
	}
	switch {
	case len(out) == 0:
		return nil, fmt.Errorf("%w: at least one url is required", crawler.ErrInvalidURL)
	case len(out) > MaxRoots:
		return nil, fmt.Errorf("%w: at most %d urls are allowed", crawler.ErrInvalidURL, MaxRoots)
	}
	return out, nil
}

// Crawl runs one independent session per root, concurrently, and registers
// each result so later searches can find it.
func (s *Service) Crawl(ctx context.Context, rawRoots ...string) (report CrawlReport, err error) {
	ctx, span := tracer.Start(ctx, "search.Crawl")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("konduit.pages", report.Pages))
		span.End()
	}()

	roots, err := Roots(rawRoots...)
	if err != nil {
		return CrawlReport{}, err
	}

	entries := make([]memory.SessionEntry, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		g.Go(func() error {
			entry, err := s.crawlRoot(gctx, root)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CrawlReport{}, err
	}

	report = CrawlReport{Sessions: make([]crawler.CrawlSession, 0, len(entries)), Blocked: []string{}}
	for _, e := range entries {
		if err := s.deps.Sessions.Put(ctx, e); err != nil {
			return CrawlReport{}, fmt.Errorf("register session: %w", err)
		}
		report.Sessions = append(report.Sessions, e.Session)
		report.Pages += e.Pages.Len()
		report.Blocked = append(report.Blocked, blockedOf(e)...)
	}
	report.Success = report.Pages > 0
	report.Message = crawlMessage(report.Pages, len(report.Blocked))
	s.logger.Info("crawl request finished",
		zap.Strings("roots", roots),
		zap.Int("pages", report.Pages),
		zap.Int("blocked", len(report.Blocked)),
	)
	return report, nil
}

func (s *Service) crawlRoot(ctx context.Context, root string) (memory.SessionEntry, error) {
	ctx, span := tracer.Start(ctx, "search.crawlRoot")
	span.SetAttributes(attribute.String("konduit.root", root))
	defer span.End()

	store := memory.NewPageStore(s.deps.Archive)
	session, err := s.runSession(ctx, root, s.cfg.Crawl, store)
	if err != nil {
		return memory.SessionEntry{}, err
	}
	entry := memory.SessionEntry{Session: session, Pages: store}
	if store.Len() > 0 || !s.cfg.WikipediaFallback || ctx.Err() != nil {
		return entry, nil
	}

	fallbackURL := s.fallbackURL(root)
	if fallbackURL == "" {
		return entry, nil
	}
	s.logger.Warn("no crawlable pages, using wikipedia fallback", zap.String("root", root), zap.String("fallback", fallbackURL))
	cfg := s.cfg.Crawl
	cfg.PageBudget = s.cfg.FallbackBudget
	cfg.MaxDepth = min(cfg.MaxDepth, 1)
	fbStore := memory.NewPageStore(s.deps.Archive)
	fb, err := s.runSession(ctx, fallbackURL, cfg, fbStore)
	if err != nil {
		s.logger.Warn("wikipedia fallback failed", zap.String("fallback", fallbackURL), zap.Error(err))
		return entry, nil
	}
	entry.Fallback = &fb
	entry.Pages = fbStore
	return entry, nil
}

func (s *Service) runSession(ctx context.Context, root string, cfg dispatcher.Config, store *memory.PageStore) (crawler.CrawlSession, error) {
	coord, err := dispatcher.New(root, cfg, dispatcher.Deps{
		Store:   store,
		Policy:  s.deps.Policy,
		Limiter: s.deps.Limiter,
		Fetcher: s.deps.Fetcher,
		Hasher:  s.deps.Hasher,
		Clock:   s.deps.Clock,
		IDs:     s.deps.IDs,
	}, s.logger.Named("dispatcher"))
	if err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("crawl %s: %w", root, err)
	}
	return coord.Run(ctx)
}

// fallbackURL maps https://www.python.org/ to <base>Python.
func (s *Service) fallbackURL(root string) string {
	u, err := url.Parse(root)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	brand, _, _ := strings.Cut(host, ".")
	if brand == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(brand)
	return s.cfg.WikipediaBaseURL + url.PathEscape(strings.ToUpper(string(r))+brand[size:])
}

func blockedOf(e memory.SessionEntry) []string {
	out := append([]string(nil), e.Session.Blocked...)
	if e.Fallback != nil {
		out = append(out, e.Fallback.Blocked...)
	}
	return out
}

func crawlMessage(pages, blocked int) string {
	if pages == 0 {
		return "No pages found, possibly blocked by robots.txt."
	}
	msg := fmt.Sprintf("Crawled %d pages successfully!", pages)
	if blocked > 0 {
		msg += fmt.Sprintf(" %d URLs blocked by robots.txt.", blocked)
	}
	return msg
}

// Search ranks the pages of the sessions named by q.Roots. A failing
// summarizer never fails the search.
func (s *Service) Search(ctx context.Context, q Query) (report SearchReport, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "search.Search")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("konduit.results", len(report.Results)),
			attribute.Bool("konduit.degraded", report.Degraded),
		)
		span.End()
	}()

	if strings.TrimSpace(q.Text) == "" {
		return SearchReport{}, crawler.ErrInvalidQuery
	}
	roots, err := Roots(q.Roots...)
	if err != nil {
		return SearchReport{}, err
	}

	stores := make([]crawler.PageStore, 0, len(roots))
	blocked := []string{}
	for _, root := range roots {
		entry, err := s.deps.Sessions.GetByRoot(ctx, root)
		if err != nil {
			return SearchReport{}, err
		}
		stores = append(stores, entry.Pages)
		blocked = append(blocked, blockedOf(entry)...)
	}

	results, err := s.deps.Ranker.RankAll(ctx, q.Text, stores, s.cfg.TopK)
	if err != nil {
		return SearchReport{}, err
	}
	report = SearchReport{Success: true, Results: results, Blocked: blocked, Degraded: s.degraded(results)}

	if q.Smart && len(results) > 0 {
		report.Summary = s.summarize(ctx, q.Text, results)
	}
	metrics.ObserveSearch(report.Degraded, time.Since(started))
	s.logger.Info("search finished",
		zap.String("query", q.Text),
		zap.Int("results", len(results)),
		zap.Bool("degraded", report.Degraded),
		zap.Bool("summary", report.Summary != ""),
	)
	return report, nil
}

func (s *Service) degraded(results []crawler.ScoredResult) bool {
	if len(results) > 0 {
		return results[0].Degraded
	}
	return s.deps.Vectors == nil || !s.deps.Vectors.Available()
}

func (s *Service) summarize(ctx context.Context, query string, results []crawler.ScoredResult) string {
	if s.deps.Summarizer == nil {
		s.logger.Debug("smart mode requested without a summarizer")
		return ""
	}
	ctx, span := tracer.Start(ctx, "search.summarize")
	defer span.End()
	text := SummaryInput(results, s.cfg.SummaryTopK, s.cfg.SummaryMaxChars)
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SummaryTimeout)
	defer cancel()
	summary, err := s.deps.Summarizer.Summarize(sctx, query, text)
	metrics.ObserveSummary(err)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("summarization failed, returning results without a summary", zap.Error(err))
		return ""
	}
	return summary
}

// SummaryInput joins the text of the first k results with blank lines and
// caps the result at maxChars bytes without splitting a rune.
func SummaryInput(results []crawler.ScoredResult, k, maxChars int) string {
	parts := make([]string, 0, k)
	for _, r := range results[:min(k, len(results))] {
		if t := strings.TrimSpace(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	text := strings.Join(parts, "\n\n")
	if len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// Sessions lists every registered session.
func (s *Service) Sessions(ctx context.Context) []crawler.CrawlSession {
	return s.deps.Sessions.List(ctx)
}

// Session returns one registered session by ID.
func (s *Service) Session(ctx context.Context, id string) (memory.SessionEntry, error) {
	return s.deps.Sessions.Get(ctx, id)
}
