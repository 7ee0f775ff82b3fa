// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/konduit/internal/crawler"
)

// DefaultUserAgents is the browser-like pool rotated across requests.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

const acceptLanguage = "en-US,en;q=0.9"

var errTooManyRedirects = errors.New("too many redirects")

// disallowedRedirect stops a redirect chain at a hop robots.txt forbids.
type disallowedRedirect struct {
	url string
}

func (e *disallowedRedirect) Error() string {
	return fmt.Sprintf("redirect to %s: %v", e.url, crawler.ErrDisallowed)
}

func (e *disallowedRedirect) Unwrap() error { return crawler.ErrDisallowed }

// Config controls collector behavior.
type Config struct {
	UserAgents   []string
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int
	// Policy, when set, is consulted for every redirect hop before it is
	// requested. The first URL is checked by the caller.
	Policy      crawler.PolicyGate
	RobotsAgent string
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	calls         atomic.Uint64
}

var _ crawler.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. robots.txt is only consulted for redirect hops.
func New(cfg Config) *Fetcher {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 20
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	maxRedirects := cfg.MaxRedirects
	policy, agent := cfg.Policy, cfg.RobotsAgent
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, len(via))
		}
		if policy != nil && !policy.Permitted(req.Context(), req.URL.String(), agent) {
			return &disallowedRedirect{url: req.URL.String()}
		}
		return nil
	})

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single GET and classifies it. Per-URL failures are
// reported through the outcome; the error is non-nil only when ctx ends
// before a classification exists.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.FetchOutcome, error) {
	var (
		result   crawler.FetchOutcome
		fetchErr error
	)
	start := time.Now()
	userAgent := f.nextUserAgent()
	collector := f.buildCollector(ctx, userAgent, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		if ctx.Err() != nil {
			return crawler.FetchOutcome{}, err
		}
		var denied *disallowedRedirect
		if errors.As(err, &denied) {
			return crawler.FetchOutcome{
				Status:     crawler.FetchBlocked,
				StatusCode: result.StatusCode,
				FinalURL:   denied.url,
				UserAgent:  userAgent,
				Duration:   time.Since(start),
				Err:        denied,
			}, nil
		}
		return crawler.FetchOutcome{
			Status:     crawler.FetchError,
			StatusCode: result.StatusCode,
			FinalURL:   rawURL,
			UserAgent:  userAgent,
			Duration:   time.Since(start),
			Err:        fmt.Errorf("%w: %w", crawler.ErrFetch, err),
		}, nil
	}
	result.UserAgent = userAgent
	if result.FinalURL == "" {
		result.FinalURL = rawURL
	}
	result.Status, result.Err = Classify(result.StatusCode, result.ContentType)
	if result.Status != crawler.FetchSuccess {
		result.Body = nil
	}
	return result, nil
}

// Classify maps a status code and content type to a fetch status.
func Classify(statusCode int, contentType string) (crawler.FetchStatus, error) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		if !isHTML(contentType) {
			return crawler.FetchError, fmt.Errorf("%w: unsupported content type %q", crawler.ErrFetch, contentType)
		}
		return crawler.FetchSuccess, nil
	case statusCode == http.StatusForbidden,
		statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusUnavailableForLegalReasons:
		return crawler.FetchBlocked, nil
	default:
		return crawler.FetchError, fmt.Errorf("%w: status %d", crawler.ErrFetch, statusCode)
	}
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func (f *Fetcher) nextUserAgent() string {
	n := f.calls.Add(1) - 1
	return f.cfg.UserAgents[n%uint64(len(f.cfg.UserAgents))]
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	userAgent string,
	start time.Time,
	result *crawler.FetchOutcome,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = userAgent
	collector.Context = ctx
	f.configureCollectorHooks(collector, userAgent, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	userAgent string,
	start time.Time,
	result *crawler.FetchOutcome,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", userAgent)
		r.Headers.Set("Accept-Language", acceptLanguage)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchOutcome{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Request != nil && r.Request.URL != nil {
			result.FinalURL = r.Request.URL.String()
		}
		if r.Headers != nil {
			result.ContentType = r.Headers.Get("Content-Type")
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
