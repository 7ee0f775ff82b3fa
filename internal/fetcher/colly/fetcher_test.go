package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/konduit/internal/crawler"
)

func newSite(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	agents := &sync.Map{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		agents.Store(r.Header.Get("User-Agent"), r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><head><title>ok</title></head><body><p>hello</p></body></html>")
	})
	mux.HandleFunc("/pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4")
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop?n="+r.URL.Query().Get("n")+"x", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, agents
}

func TestFetchClassifiesResponses(t *testing.T) {
	t.Parallel()

	srv, _ := newSite(t)
	f := New(Config{Timeout: 2 * time.Second})
	ctx := context.Background()

	out, err := f.Fetch(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	require.Equal(t, crawler.FetchSuccess, out.Status)
	require.Equal(t, http.StatusOK, out.StatusCode)
	require.Contains(t, string(out.Body), "hello")
	require.NoError(t, out.Err)

	out, err = f.Fetch(ctx, srv.URL+"/forbidden")
	require.NoError(t, err)
	require.Equal(t, crawler.FetchBlocked, out.Status)
	require.Equal(t, http.StatusForbidden, out.StatusCode)

	out, err = f.Fetch(ctx, srv.URL+"/missing")
	require.NoError(t, err)
	require.Equal(t, crawler.FetchError, out.Status)
	require.True(t, errors.Is(out.Err, crawler.ErrFetch))

	out, err = f.Fetch(ctx, srv.URL+"/pdf")
	require.NoError(t, err)
	require.Equal(t, crawler.FetchError, out.Status)
	require.Nil(t, out.Body)
	require.ErrorContains(t, out.Err, "unsupported content type")
}

func TestFetchFollowsRedirectsUpToCap(t *testing.T) {
	t.Parallel()

	srv, _ := newSite(t)
	f := New(Config{MaxRedirects: 3, Timeout: 2 * time.Second})

	out, err := f.Fetch(context.Background(), srv.URL+"/moved")
	require.NoError(t, err)
	require.Equal(t, crawler.FetchSuccess, out.Status)
	require.Equal(t, srv.URL+"/ok", out.FinalURL)

	out, err = f.Fetch(context.Background(), srv.URL+"/loop")
	require.NoError(t, err)
	require.Equal(t, crawler.FetchError, out.Status)
	require.True(t, errors.Is(out.Err, crawler.ErrFetch))
}

type denyPolicy struct {
	mu     sync.Mutex
	denied string
	agents []string
}

func (p *denyPolicy) Permitted(_ context.Context, rawURL, userAgent string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agents = append(p.agents, userAgent)
	return rawURL != p.denied
}

func (p *denyPolicy) CrawlDelay(context.Context, string, string) time.Duration { return 0 }

func TestFetchStopsAtDisallowedRedirect(t *testing.T) {
	t.Parallel()

	srv, agents := newSite(t)
	policy := &denyPolicy{denied: srv.URL + "/ok"}
	f := New(Config{Timeout: 2 * time.Second, Policy: policy, RobotsAgent: "konduit"})

	out, err := f.Fetch(context.Background(), srv.URL+"/moved")
	require.NoError(t, err)
	require.Equal(t, crawler.FetchBlocked, out.Status)
	require.Equal(t, srv.URL+"/ok", out.FinalURL)
	require.True(t, errors.Is(out.Err, crawler.ErrDisallowed))
	require.Nil(t, out.Body)
	require.Equal(t, []string{"konduit"}, policy.agents)

	hits := 0
	agents.Range(func(_, _ any) bool { hits++; return true })
	require.Zero(t, hits, "the disallowed hop is never requested")
}

func TestFetchTimeoutIsAnError(t *testing.T) {
	t.Parallel()

	srv, _ := newSite(t)
	f := New(Config{Timeout: 50 * time.Millisecond})
	out, err := f.Fetch(context.Background(), srv.URL+"/slow")
	require.NoError(t, err)
	require.Equal(t, crawler.FetchError, out.Status)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv, _ := newSite(t)
	f := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, srv.URL+"/slow")
	require.Error(t, err)
}

func TestFetchRotatesUserAgents(t *testing.T) {
	t.Parallel()

	srv, agents := newSite(t)
	pool := []string{"agent-a/1.0", "agent-b/1.0"}
	f := New(Config{UserAgents: pool})

	var used []string
	for i := 0; i < 4; i++ {
		out, err := f.Fetch(context.Background(), srv.URL+"/ok")
		require.NoError(t, err)
		used = append(used, out.UserAgent)
	}
	require.Equal(t, []string{"agent-a/1.0", "agent-b/1.0", "agent-a/1.0", "agent-b/1.0"}, used)

	for _, ua := range pool {
		lang, ok := agents.Load(ua)
		require.True(t, ok, "server saw %s", ua)
		require.Equal(t, acceptLanguage, lang)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code        int
		contentType string
		want        crawler.FetchStatus
	}{
		{http.StatusOK, "text/html; charset=utf-8", crawler.FetchSuccess},
		{http.StatusOK, "application/xhtml+xml", crawler.FetchSuccess},
		{http.StatusOK, "application/json", crawler.FetchError},
		{http.StatusOK, "", crawler.FetchError},
		{http.StatusForbidden, "text/html", crawler.FetchBlocked},
		{http.StatusTooManyRequests, "text/html", crawler.FetchBlocked},
		{http.StatusUnavailableForLegalReasons, "", crawler.FetchBlocked},
		{http.StatusGone, "text/html", crawler.FetchError},
		{http.StatusInternalServerError, "text/html", crawler.FetchError},
	}
	for _, tc := range cases {
		got, _ := Classify(tc.code, tc.contentType)
		require.Equal(t, tc.want, got, "%d %q", tc.code, tc.contentType)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	start := time.Unix(0, 0)
	var result crawler.FetchOutcome
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "test-agent", start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "test-agent", collyReq.Headers.Get("User-Agent"))
	require.Equal(t, acceptLanguage, collyReq.Headers.Get("Accept-Language"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/final"),
		},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "text/html", result.ContentType)
	require.Equal(t, "https://example.com/final", result.FinalURL)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	require.Equal(t, http.StatusBadGateway, result.StatusCode)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
