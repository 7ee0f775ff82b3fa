package rank

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/index"
	"github.com/JakeFAU/konduit/internal/storage/memory"
)

// wordEmbedder maps text onto [python count, java count, 0.1].
type wordEmbedder struct{ err error }

func (e wordEmbedder) vec(text string) []float32 {
	lower := strings.ToLower(text)
	return []float32{float32(strings.Count(lower, "python")), float32(strings.Count(lower, "java")), 0.1}
}

func (e wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec(text), nil
}

func (e wordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func corpus(t *testing.T, sessionID string, pages map[string]string) *memory.PageStore {
	t.Helper()
	store := memory.NewPageStore(nil)
	for url, text := range pages {
		require.NoError(t, store.Insert(context.Background(), crawler.PageRecord{
			SessionID:   sessionID,
			URL:         url,
			Text:        text,
			ContentHash: text,
			Status:      crawler.FetchSuccess,
		}))
	}
	return store
}

func languages(t *testing.T) *memory.PageStore {
	return corpus(t, "s1", map[string]string{
		"https://example.com/python": "Python is a programming language. Python code is readable and python scripts run everywhere.",
		"https://example.com/java":   "Java is a programming language used for enterprise systems.",
		"https://example.com/snakes": "Snakes include the python and many other reptiles.",
	})
}

func urls(results []crawler.ScoredResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.URL
	}
	return out
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"crawl", "page", "run"}, Tokenize("The Crawling of pages, running!"))
	require.Empty(t, Tokenize("a I the and"))
	require.Equal(t, []string{"go", "123"}, Tokenize("Go 123 x"))
}

func TestKeywordOnlyPythonQuery(t *testing.T) {
	t.Parallel()

	r, err := New(nil, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	results, err := r.Rank(context.Background(), "python", languages(t))
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/python",
		"https://example.com/snakes",
		"https://example.com/java",
	}, urls(results))

	require.InDelta(t, 1.0, results[0].KeywordScore, 1e-9)
	require.Zero(t, results[2].KeywordScore)
	for _, res := range results {
		require.True(t, res.Degraded)
		require.Zero(t, res.SemanticScore)
		require.Equal(t, res.KeywordScore, res.FinalScore)
		require.Equal(t, "s1", res.SessionID)
	}
}

func TestHybridScoring(t *testing.T) {
	t.Parallel()

	ix := index.New(wordEmbedder{}, nil, index.Config{}, nil)
	r, err := New(ix, DefaultConfig(), nil)
	require.NoError(t, err)

	results, err := r.Rank(context.Background(), "python", languages(t))
	require.NoError(t, err)
	require.Equal(t, "https://example.com/python", results[0].URL)
	require.Equal(t, "https://example.com/java", results[2].URL)

	for _, res := range results {
		require.False(t, res.Degraded)
		require.GreaterOrEqual(t, res.SemanticScore, 0.0)
		require.LessOrEqual(t, res.SemanticScore, 1.0)
		require.InDelta(t, 0.6*res.SemanticScore+0.4*res.KeywordScore, res.FinalScore, 1e-9)
		require.Equal(t, res.URL, res.Chunk.URL)
		require.NotEmpty(t, res.Chunk.Text)
	}
	require.InDelta(t, 1.0, results[0].SemanticScore, 0.01)
	require.Less(t, results[2].SemanticScore, 0.6)
}

func TestEmbedderFailureDegrades(t *testing.T) {
	t.Parallel()

	ix := index.New(wordEmbedder{err: errors.New("quota exceeded")}, nil, index.Config{}, nil)
	r, err := New(ix, DefaultConfig(), nil)
	require.NoError(t, err)

	results, err := r.Rank(context.Background(), "python", languages(t))
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results[0].Degraded)
	require.Equal(t, "https://example.com/python", results[0].URL)
}

func TestRankIsDeterministicWithURLTieBreak(t *testing.T) {
	t.Parallel()

	text := "Identical page about crawling."
	store := corpus(t, "s", map[string]string{
		"https://example.com/b": text,
		"https://example.com/a": text,
		"https://example.com/c": text,
	})
	r, err := New(index.New(wordEmbedder{}, nil, index.Config{}, nil), DefaultConfig(), nil)
	require.NoError(t, err)

	first, err := r.Rank(context.Background(), "crawling", store)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}, urls(first))
	for i := 0; i < 5; i++ {
		again, err := r.Rank(context.Background(), "crawling", store)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestRankEdgeCases(t *testing.T) {
	t.Parallel()

	r, err := New(nil, DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Rank(ctx, "   ", memory.NewPageStore(nil))
	require.True(t, errors.Is(err, crawler.ErrInvalidQuery))

	results, err := r.Rank(ctx, "python", memory.NewPageStore(nil))
	require.NoError(t, err)
	require.NotNil(t, results)
	require.Empty(t, results)

	_, err = r.Rank(ctx, "the and of", languages(t))
	require.True(t, errors.Is(err, crawler.ErrInvalidQuery))
}

func TestMinScoreDropsWeakResults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinScore = 0.1
	r, err := New(nil, cfg, nil)
	require.NoError(t, err)

	results, err := r.Rank(context.Background(), "python", languages(t))
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/python", "https://example.com/snakes"}, urls(results))
}

func TestWeightsAreValidatedAndNormalized(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{SemanticWeight: -1, KeywordWeight: 1}, nil)
	require.Error(t, err)
	_, err = New(nil, Config{}, nil)
	require.Error(t, err)
	_, err = New(nil, Config{SemanticWeight: 1, KeywordWeight: 1, MinScore: 2}, nil)
	require.Error(t, err)

	r, err := New(index.New(wordEmbedder{}, nil, index.Config{}, nil), Config{SemanticWeight: 2}, nil)
	require.NoError(t, err)
	results, err := r.Rank(context.Background(), "python", languages(t))
	require.NoError(t, err)
	for _, res := range results {
		require.InDelta(t, res.SemanticScore, res.FinalScore, 1e-9)
	}
}

func TestRankAllMergesAndTruncates(t *testing.T) {
	t.Parallel()

	a := languages(t)
	b := corpus(t, "s2", map[string]string{
		"https://other.org/monty": "Monty Python and python jokes about python programmers and python.",
		"https://other.org/rust":  "Rust is a systems language.",
	})
	r, err := New(nil, DefaultConfig(), nil)
	require.NoError(t, err)

	results, err := r.RankAll(context.Background(), "python", []crawler.PageStore{a, b}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.ElementsMatch(t, []string{"https://example.com/python", "https://other.org/monty"}, urls(results[:2]))
	for i := 1; i < len(results); i++ {
		require.False(t, crawler.Less(results[i], results[i-1]))
	}

	all, err := r.RankAll(context.Background(), "python", []crawler.PageStore{a, b}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func TestZeroSemanticWeightIsNotDegraded(t *testing.T) {
	t.Parallel()

	r, err := New(index.New(wordEmbedder{}, nil, index.Config{}, nil), Config{KeywordWeight: 1}, nil)
	require.NoError(t, err)

	results, err := r.Rank(context.Background(), "python", languages(t))
	require.NoError(t, err)
	require.Equal(t, "https://example.com/python", results[0].URL)
	for _, res := range results {
		require.False(t, res.Degraded, "keyword-only by configuration is not a degraded answer")
		require.Zero(t, res.SemanticScore)
		require.Equal(t, res.KeywordScore, res.FinalScore)
	}
}

func TestRankAllReportsSharedURLOnce(t *testing.T) {
	t.Parallel()

	a := languages(t)
	b := corpus(t, "s2", map[string]string{
		"https://example.com/python": "Python is a programming language. Python code is readable and python scripts run everywhere.",
		"https://example.com/guide":  "A python guide.",
	})
	r, err := New(nil, DefaultConfig(), nil)
	require.NoError(t, err)

	results, err := r.RankAll(context.Background(), "python", []crawler.PageStore{a, b}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	seen := map[string]bool{}
	for _, res := range results {
		require.False(t, seen[res.URL], "duplicate %s", res.URL)
		seen[res.URL] = true
	}
	require.Equal(t, "https://example.com/python", results[0].URL)
	require.Equal(t, "s1", results[0].SessionID, "the first occurrence in ranked order is kept")
}
