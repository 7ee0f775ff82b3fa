package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/konduit/internal/crawler"
)

func TestSessionStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()

	_, err := store.GetByRoot(ctx, "https://example.com/")
	require.True(t, errors.Is(err, crawler.ErrUnknownSession))
	require.Error(t, store.Put(ctx, SessionEntry{}))

	first := crawler.CrawlSession{ID: "s1", RootURL: "https://example.com/", Status: crawler.SessionCompleted}
	require.NoError(t, store.Put(ctx, SessionEntry{Session: first}))

	got, err := store.GetByRoot(ctx, "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, "s1", got.Session.ID)
	require.NotNil(t, got.Pages)

	second := crawler.CrawlSession{ID: "s2", RootURL: "https://example.com/", Status: crawler.SessionCompleted}
	require.NoError(t, store.Put(ctx, SessionEntry{Session: second, Pages: NewPageStore(nil)}))

	_, err = store.Get(ctx, "s1")
	require.True(t, errors.Is(err, crawler.ErrUnknownSession), "replaced sessions are forgotten")
	got, err = store.Get(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, crawler.SessionCompleted, got.Session.Status)

	require.NoError(t, store.Put(ctx, SessionEntry{Session: crawler.CrawlSession{ID: "s3", RootURL: "https://a.org/"}}))
	list := store.List(ctx)
	require.Len(t, list, 2)
	require.Equal(t, "https://a.org/", list[0].RootURL)
}
