// Package robots answers robots.txt questions per host with a TTL cache.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/metrics"
)

const maxRobotsBytes = 512 << 10

// Options configures a Gate.
type Options struct {
	Client    *http.Client
	UserAgent string
	TTL       time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

type entry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	fallback  bool
}

// Gate enforces robots.txt directives per scheme and host. Unreachable or
// server-erroring robots files fall back to permit-all, and the fallback is
// cached for the TTL like any parsed file.
type Gate struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
}

var _ crawler.PolicyGate = (*Gate)(nil)

// New builds a Gate.
func New(opts Options) *Gate {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: NewRetryTransport(http.DefaultTransport),
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Gate{
		client:    client,
		userAgent: opts.UserAgent,
		ttl:       ttl,
		logger:    logger,
		now:       now,
		entries:   make(map[string]entry),
	}
}

// Permitted reports whether userAgent may fetch rawURL. Unparsable URLs are denied.
func (g *Gate) Permitted(ctx context.Context, rawURL string, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data := g.load(ctx, parsed)
	if data == nil {
		return true
	}
	return data.TestAgent(parsed.RequestURI(), g.agent(userAgent))
}

// CrawlDelay returns the Crawl-delay declared for userAgent on rawURL's host, or zero.
func (g *Gate) CrawlDelay(ctx context.Context, rawURL string, userAgent string) time.Duration {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return 0
	}
	data := g.load(ctx, parsed)
	if data == nil {
		return 0
	}
	group := data.FindGroup(g.agent(userAgent))
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// Invalidate drops the cached policy for host so the next call refetches it.
func (g *Gate) Invalidate(host string) {
	host = strings.ToLower(host)
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.entries {
		if strings.HasSuffix(key, "://"+host) {
			delete(g.entries, key)
		}
	}
}

func (g *Gate) agent(userAgent string) string {
	if userAgent != "" {
		return userAgent
	}
	return g.userAgent
}

// load returns the cached or freshly fetched policy, or nil for permit-all.
func (g *Gate) load(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	key := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)

	g.mu.Lock()
	cached, ok := g.entries[key]
	g.mu.Unlock()
	if ok && g.now().Sub(cached.fetchedAt) < g.ttl {
		return cached.data
	}

	v, _, _ := g.group.Do(key, func() (any, error) {
		g.mu.Lock()
		if e, ok := g.entries[key]; ok && g.now().Sub(e.fetchedAt) < g.ttl {
			g.mu.Unlock()
			return e, nil
		}
		g.mu.Unlock()
		e := g.fetch(ctx, key)
		g.mu.Lock()
		g.entries[key] = e
		g.mu.Unlock()
		return e, nil
	})
	e, _ := v.(entry)
	return e.data
}

func (g *Gate) fetch(ctx context.Context, origin string) entry {
	now := g.now()
	data, err := g.retrieve(ctx, origin+"/robots.txt")
	if err != nil {
		metrics.ObserveRobotsFetch("fallback")
		g.logger.Warn("robots fetch failed; allowing access",
			zap.String("origin", origin),
			zap.Error(err),
		)
		return entry{fetchedAt: now, fallback: true}
	}
	metrics.ObserveRobotsFetch("ok")
	return entry{data: data, fetchedAt: now}
}

func (g *Gate) retrieve(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	// The fetch outlives any single caller sharing it through singleflight.
	ctx = context.WithoutCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrPolicyFetch, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", crawler.ErrPolicyFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", crawler.ErrPolicyFetch, err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %w", crawler.ErrPolicyFetch, err)
	}
	return data, nil
}
