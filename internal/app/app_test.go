package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/konduit/internal/app"
	"github.com/JakeFAU/konduit/internal/config"
	"github.com/JakeFAU/konduit/internal/search"
)

func loadDefaults(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.PolitenessDelayMs = 1
	cfg.Search.WikipediaFallback = false
	return cfg
}

func TestNewWithDefaultsIsKeywordOnly(t *testing.T) {
	cfg := loadDefaults(t)

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Service())
	require.NoError(t, a.Ready(context.Background()))
	require.Empty(t, a.Service().Sessions(context.Background()))
}

func TestNewWithSQLiteArchive(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.DB.Driver = config.DriverSQLite
	cfg.DB.DSN = filepath.Join(t.TempDir(), "archive.db")

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Ready(context.Background()))
}

func TestNewWithMemoryArchive(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.DB.Driver = config.DriverMemory

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Ready(context.Background()))
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.DB.Driver = "mysql"
	_, err := app.New(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg = loadDefaults(t)
	cfg.Capabilities.Provider = "openai"
	_, err = app.New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestCrawlAndSearchThroughHTTPCapabilities(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><head><title>Python</title></head><body>
<p>Python is a programming language that lets you work quickly and integrate systems effectively.</p>
</body></html>`))
		}
	}))
	defer site.Close()

	ml := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/summarize":
			_, _ = w.Write([]byte(`{"summary":"Python is a language."}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer ml.Close()

	cfg := loadDefaults(t)
	cfg.Capabilities.Provider = config.ProviderHTTP
	cfg.Capabilities.Endpoint = ml.URL

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	report, err := a.Service().Crawl(ctx, site.URL)
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, 1, report.Pages)

	res, err := a.Service().Search(ctx, search.Query{Text: "python language", Roots: []string{site.URL}, Smart: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	require.True(t, res.Degraded, "a failing embed endpoint degrades to keyword-only")
	require.Equal(t, "Python is a language.", res.Summary)
}
