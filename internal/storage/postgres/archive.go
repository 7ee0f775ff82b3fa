// Package postgres provides the Postgres-backed page and embedding archive.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/konduit/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and target tables.
type Config struct {
	DSN             string
	PagesTable      string
	EmbeddingsTable string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Archive writes crawled pages and chunk vectors into Postgres.
type Archive struct {
	pool       pool
	pages      string
	embeddings string
	psql       sq.StatementBuilderType
}

var _ crawler.Archive = (*Archive)(nil)

// New connects to Postgres and returns an Archive.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a, err := NewWithPool(p, cfg.PagesTable, cfg.EmbeddingsTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return a, nil
}

// NewWithPool constructs an Archive from an existing pool (primarily for testing).
// Empty table names default to "pages" and "embeddings".
func NewWithPool(p pool, pages, embeddings string) (*Archive, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if pages == "" {
		pages = "pages"
	}
	if embeddings == "" {
		embeddings = "embeddings"
	}
	for _, name := range []string{pages, embeddings} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &Archive{
		pool:       p,
		pages:      pages,
		embeddings: embeddings,
		psql:       sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// EnsureSchema creates the archive tables when they do not exist.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	session_id   TEXT NOT NULL,
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL,
	status_code  INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	depth        INTEGER NOT NULL,
	fetched_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, url)
)`, a.pages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	url          TEXT NOT NULL,
	chunk_offset INTEGER NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	vector       REAL[] NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (url, chunk_offset)
)`, a.embeddings),
	}
	for _, stmt := range stmts {
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SavePage inserts the page. A page already archived for the session is kept.
func (a *Archive) SavePage(ctx context.Context, page crawler.PageRecord) error {
	query, args, err := a.psql.Insert(a.pages).
		Columns("session_id", "url", "title", "body", "status_code", "content_hash", "depth", "fetched_at").
		Values(page.SessionID, page.URL, page.Title, page.Text, page.StatusCode, page.ContentHash, page.Depth, page.FetchedAt.UTC()).
		Suffix("ON CONFLICT (session_id, url) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build page insert: %w", err)
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// SaveEmbedding upserts the vector for key, tagged with the page's content hash.
func (a *Archive) SaveEmbedding(ctx context.Context, key crawler.ChunkKey, contentHash string, vector []float32) error {
	query, args, err := a.psql.Insert(a.embeddings).
		Columns("url", "chunk_offset", "content_hash", "vector").
		Values(key.URL, key.Offset, contentHash, vector).
		Suffix("ON CONFLICT (url, chunk_offset) DO UPDATE SET content_hash = EXCLUDED.content_hash, vector = EXCLUDED.vector, updated_at = now()").
		ToSql()
	if err != nil {
		return fmt.Errorf("build embedding upsert: %w", err)
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// LoadEmbedding returns the archived vector for key when it was computed
// from the same page content.
func (a *Archive) LoadEmbedding(ctx context.Context, key crawler.ChunkKey, contentHash string) ([]float32, bool, error) {
	query, args, err := a.psql.Select("vector").
		From(a.embeddings).
		Where(sq.Eq{"url": key.URL, "chunk_offset": key.Offset, "content_hash": contentHash}).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build embedding select: %w", err)
	}
	var vector []float32
	if err := a.pool.QueryRow(ctx, query, args...).Scan(&vector); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select embedding: %w", err)
	}
	return vector, true, nil
}

// Ping reports whether the database is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close releases the pool.
func (a *Archive) Close() error {
	a.pool.Close()
	return nil
}
