package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/robots.txt":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		case "/":
			_, _ = w.Write([]byte(`<html><head><title>Home</title></head><body>
<p>Welcome to the snake enthusiasts site where we talk about pythons and other reptiles.</p>
<a href="/python">Python</a> <a href="/private">Private</a></body></html>`))
		case "/python":
			_, _ = w.Write([]byte(`<html><head><title>Python</title></head><body>
<p>Python is a programming language that lets you work quickly and integrate systems.</p></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(site.Close)
	return site
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("KONDUIT_CRAWLER_POLITENESS_DELAY_MS", "1")
	t.Setenv("KONDUIT_LOGGING_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandExportsSessions(t *testing.T) {
	site := newSite(t)
	exportDir := t.TempDir()

	out, err := run(t, "crawl", "--export-dir", exportDir, site.URL)
	require.NoError(t, err)

	var report struct {
		Success  bool     `json:"success"`
		Pages    int      `json:"pages"`
		Blocked  []string `json:"blocked"`
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.True(t, report.Success)
	require.Equal(t, 2, report.Pages)
	require.Equal(t, []string{site.URL + "/private"}, report.Blocked)
	require.Len(t, report.Sessions, 1)

	dir := filepath.Join(exportDir, report.Sessions[0].ID)
	require.FileExists(t, filepath.Join(dir, "session.json"))
	pages, err := os.ReadFile(filepath.Join(dir, "pages.jsonl"))
	require.NoError(t, err)
	require.Equal(t, 2, bytes.Count(pages, []byte("\n")))
}

func TestSearchCommandRanksPages(t *testing.T) {
	site := newSite(t)

	out, err := run(t, "search", "--url", site.URL, "python", "programming")
	require.NoError(t, err)

	var report struct {
		Success  bool `json:"success"`
		Degraded bool `json:"degraded"`
		Results  []struct {
			URL string `json:"url"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.True(t, report.Success)
	require.True(t, report.Degraded, "no capability provider means keyword-only")
	require.NotEmpty(t, report.Results)
	require.Equal(t, site.URL+"/python", report.Results[0].URL)
}

func TestCommandArgumentValidation(t *testing.T) {
	_, err := run(t, "crawl")
	require.Error(t, err)

	_, err = run(t, "crawl", "https://a.example", "https://b.example", "https://c.example")
	require.Error(t, err)

	_, err = run(t, "search", "python")
	require.Error(t, err, "--url is required")

	_, err = run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "crawl", "https://example.com")
	require.Error(t, err)
}

func TestResolveAppRequiresInitialization(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
