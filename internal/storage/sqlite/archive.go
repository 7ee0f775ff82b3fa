// Package sqlite provides a CGO-free SQLite page and embedding archive.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/konduit/internal/crawler"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
	session_id   TEXT NOT NULL,
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL,
	status_code  INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	depth        INTEGER NOT NULL,
	fetched_at   DATETIME NOT NULL,
	PRIMARY KEY (session_id, url)
);
CREATE TABLE IF NOT EXISTS embeddings (
	url          TEXT NOT NULL,
	chunk_offset INTEGER NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	vector       BLOB NOT NULL,
	PRIMARY KEY (url, chunk_offset)
);`

// Archive stores pages and chunk vectors in a single SQLite file.
type Archive struct {
	db *sql.DB
}

var _ crawler.Archive = (*Archive)(nil)

// Open opens (or creates) the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Archive, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer avoids SQLITE_BUSY under concurrent crawls
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	a := &Archive{db: db}
	if err := a.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// NewWithDB wraps an open database without touching its schema (primarily
// for testing).
func NewWithDB(db *sql.DB) *Archive {
	return &Archive{db: db}
}

func (a *Archive) initSchema(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := a.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute pragma %s: %w", pragma, err)
		}
	}
	if _, err := a.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SavePage inserts the page unless it was already archived for the session.
func (a *Archive) SavePage(ctx context.Context, page crawler.PageRecord) error {
	_, err := sq.Insert("pages").
		Options("OR IGNORE").
		Columns("session_id", "url", "title", "body", "status_code", "content_hash", "depth", "fetched_at").
		Values(page.SessionID, page.URL, page.Title, page.Text, page.StatusCode, page.ContentHash, page.Depth, page.FetchedAt.UTC()).
		RunWith(a.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// SaveEmbedding upserts the vector for key, tagged with the page's content hash.
func (a *Archive) SaveEmbedding(ctx context.Context, key crawler.ChunkKey, contentHash string, vector []float32) error {
	_, err := sq.Insert("embeddings").
		Options("OR REPLACE").
		Columns("url", "chunk_offset", "content_hash", "vector").
		Values(key.URL, key.Offset, contentHash, encodeVector(vector)).
		RunWith(a.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// LoadEmbedding returns the archived vector for key when it was computed
// from the same page content.
func (a *Archive) LoadEmbedding(ctx context.Context, key crawler.ChunkKey, contentHash string) ([]float32, bool, error) {
	var blob []byte
	err := sq.Select("vector").
		From("embeddings").
		Where(sq.Eq{"url": key.URL, "chunk_offset": key.Offset, "content_hash": contentHash}).
		RunWith(a.db).
		QueryRowContext(ctx).
		Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select embedding: %w", err)
	}
	return decodeVector(blob), true, nil
}

// Ping reports whether the database is usable.
func (a *Archive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
