package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/konduit/internal/crawler"
)

func openTemp(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(context.Background(), filepath.Join(t.TempDir(), "konduit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSavePageIsIdempotentPerSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := openTemp(t)

	page := crawler.PageRecord{
		SessionID:   "s-1",
		URL:         "https://example.com/",
		Title:       "Home",
		Text:        "Welcome home.",
		StatusCode:  200,
		ContentHash: "h1",
		FetchedAt:   time.Unix(1700000000, 0),
	}
	require.NoError(t, a.SavePage(ctx, page))
	require.NoError(t, a.SavePage(ctx, page))

	page.SessionID = "s-2"
	require.NoError(t, a.SavePage(ctx, page))

	var n int
	require.NoError(t, a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages").Scan(&n))
	require.Equal(t, 2, n)
	require.NoError(t, a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages WHERE session_id = ?", "s-1").Scan(&n))
	require.Equal(t, 1, n)
}

func TestSaveEmbeddingRoundTripAndUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := openTemp(t)
	key := crawler.ChunkKey{URL: "https://example.com/", Offset: 300}

	_, ok, err := a.LoadEmbedding(ctx, key, "h1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, a.SaveEmbedding(ctx, key, "h1", []float32{0.5, -1, 2}))
	require.NoError(t, a.SaveEmbedding(ctx, key, "h2", []float32{1, 2}))

	got, ok, err := a.LoadEmbedding(ctx, key, "h2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{1, 2}, got)

	_, ok, err = a.LoadEmbedding(ctx, key, "h1")
	require.NoError(t, err)
	require.False(t, ok, "vectors of older content are not served")
	require.NoError(t, a.Ping(ctx))
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}

func TestSaveWrapsDriverErrors(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	a := NewWithDB(db)
	defer a.Close()

	boom := errors.New("disk I/O error")
	mock.ExpectExec("INSERT OR IGNORE INTO pages").WillReturnError(boom)
	mock.ExpectExec("INSERT OR REPLACE INTO embeddings").
		WithArgs("https://example.com/", 0, "h1", encodeVector([]float32{1})).
		WillReturnError(boom)

	err = a.SavePage(context.Background(), crawler.PageRecord{URL: "https://example.com/"})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "insert page")

	err = a.SaveEmbedding(context.Background(), crawler.ChunkKey{URL: "https://example.com/"}, "h1", []float32{1})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorEncoding(t *testing.T) {
	t.Parallel()

	in := []float32{0, -1.5, 3.25}
	require.Equal(t, in, decodeVector(encodeVector(in)))
	require.Empty(t, decodeVector(nil))
}
