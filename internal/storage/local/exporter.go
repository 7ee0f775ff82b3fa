// Package local exports crawl sessions to the local filesystem.
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/konduit/internal/storage/memory"
)

// Config captures the parameters for the session exporter.
type Config struct {
	// BaseDir is the root directory sessions are exported under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Exporter writes each session as <base>/<session id>/session.json plus
// one JSON page per line in pages.jsonl.
type Exporter struct {
	baseDir string
}

// New creates an Exporter, creating BaseDir when needed.
func New(cfg Config) (*Exporter, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &Exporter{baseDir: cfg.BaseDir}, nil
}

// Export writes entry and returns the directory it was written to.
func (e *Exporter) Export(ctx context.Context, entry memory.SessionEntry) (string, error) {
	id := entry.Session.ID
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	dir := filepath.Join(e.baseDir, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}

	meta, err := json.MarshalIndent(entry.Session, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "session.json"), meta, 0o600); err != nil {
		return "", fmt.Errorf("write session: %w", err)
	}
	if entry.Fallback != nil {
		fb, err := json.MarshalIndent(entry.Fallback, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal fallback session: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "fallback.json"), fb, 0o600); err != nil {
			return "", fmt.Errorf("write fallback session: %w", err)
		}
	}

	if err := e.writePages(ctx, filepath.Join(dir, "pages.jsonl"), entry.Pages); err != nil {
		return "", err
	}
	return dir, nil
}

func (e *Exporter) writePages(ctx context.Context, path string, pages *memory.PageStore) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create pages file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close pages file: %w", cerr)
		}
	}()
	if pages == nil {
		return nil
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, page := range pages.All(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(page); err != nil {
			return fmt.Errorf("encode page %s: %w", page.URL, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush pages file: %w", err)
	}
	return nil
}
