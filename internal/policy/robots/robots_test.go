package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatePermitted(t *testing.T) {
	t.Parallel()

	body := "User-agent: *\nDisallow: /private/\nAllow: /private/open\n\nUser-agent: strictbot\nDisallow: /\n"
	srv := newServer(t, http.StatusOK, body, nil)
	g := New(Options{UserAgent: "konduit", Logger: zap.NewNop()})
	ctx := context.Background()

	require.True(t, g.Permitted(ctx, srv.URL+"/", ""))
	require.True(t, g.Permitted(ctx, srv.URL+"/docs/intro", "Mozilla/5.0"))
	require.False(t, g.Permitted(ctx, srv.URL+"/private/secret", "Mozilla/5.0"))
	require.True(t, g.Permitted(ctx, srv.URL+"/private/open", "Mozilla/5.0"), "longest match wins")
	require.False(t, g.Permitted(ctx, srv.URL+"/docs", "strictbot/1.0"))
	require.False(t, g.Permitted(ctx, "://bad", ""))
}

func TestGateFallbacks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for name, status := range map[string]int{
		"not found":    http.StatusNotFound,
		"server error": http.StatusServiceUnavailable,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := newServer(t, status, "User-agent: *\nDisallow: /\n", nil)
			g := New(Options{UserAgent: "konduit"})
			require.True(t, g.Permitted(ctx, srv.URL+"/anything", ""))
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		g := New(Options{UserAgent: "konduit", Client: &http.Client{Timeout: time.Second}})
		require.True(t, g.Permitted(ctx, addr+"/page", ""))
		require.Zero(t, g.CrawlDelay(ctx, addr+"/page", ""))
	})
}

func TestGateCachesWithTTLAndInvalidate(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, http.StatusOK, "User-agent: *\nCrawl-delay: 2\nDisallow: /x\n", &hits)

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	g := New(Options{UserAgent: "konduit", TTL: time.Minute, Now: clock})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Permitted(ctx, srv.URL+"/a", "")
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), hits.Load(), "concurrent lookups share one fetch")
	fetched := hits.Load()

	require.Equal(t, 2*time.Second, g.CrawlDelay(ctx, srv.URL+"/", ""))
	require.Equal(t, fetched, hits.Load())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	g.Permitted(ctx, srv.URL+"/a", "")
	require.Equal(t, fetched+1, hits.Load(), "expired entries are refetched")

	g.Invalidate(srv.Listener.Addr().String())
	g.Permitted(ctx, srv.URL+"/a", "")
	require.Equal(t, fetched+2, hits.Load())
}
