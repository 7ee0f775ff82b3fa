package local_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/storage/local"
	"github.com/JakeFAU/konduit/internal/storage/memory"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "out")
		exp, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, exp)
		assert.DirExists(t, dir)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("BaseDirIsAFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: path})
		assert.Error(t, err)
	})
}

func TestExportWritesSessionAndPages(t *testing.T) {
	ctx := context.Background()
	exp, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	pages := memory.NewPageStore(nil)
	require.NoError(t, pages.Insert(ctx, crawler.PageRecord{SessionID: "abc", URL: "https://example.com/", Text: "home"}))
	require.NoError(t, pages.Insert(ctx, crawler.PageRecord{SessionID: "abc", URL: "https://example.com/about", Text: "about"}))

	entry := memory.SessionEntry{
		Session: crawler.CrawlSession{ID: "abc", RootURL: "https://example.com/", Status: crawler.SessionCompleted, PagesStored: 2},
		Pages:   pages,
	}
	dir, err := exp.Export(ctx, entry)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "session.json"))
	require.NoError(t, err)
	var session crawler.CrawlSession
	require.NoError(t, json.Unmarshal(raw, &session))
	assert.Equal(t, "abc", session.ID)
	assert.Equal(t, 2, session.PagesStored)
	assert.NoFileExists(t, filepath.Join(dir, "fallback.json"))

	f, err := os.Open(filepath.Join(dir, "pages.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var p crawler.PageRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &p))
		urls = append(urls, p.URL)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"https://example.com/", "https://example.com/about"}, urls)
}

func TestExportRejectsUnsafeIDs(t *testing.T) {
	exp, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, id := range []string{"", "..", "../escape", `a\b`} {
		_, err := exp.Export(context.Background(), memory.SessionEntry{Session: crawler.CrawlSession{ID: id}})
		assert.Error(t, err, id)
	}
}
