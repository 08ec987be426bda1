// Package search maintains a full-text index over the workspace's markdown
// content: active case notes, archived cases, and documentation. The index
// is in-memory and rebuilt from disk; readers are served the current
// snapshot and never block on a rebuild, tolerating slight staleness.
package search

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/adalundhe/casehub/core/workspace"
)

// DefaultLimit bounds search results when the caller does not specify one.
const DefaultLimit = 20

// Result is one matching document.
type Result struct {
	Title    string   `json:"title"`
	Path     string   `json:"path"`
	Section  string   `json:"section"`
	Score    float64  `json:"score"`
	Snippets []string `json:"snippets,omitempty"`
}

type document struct {
	Title   string `json:"title"`
	Path    string `json:"path"`
	Section string `json:"section"`
	Body    string `json:"body"`
}

// Index is a rebuildable bleve index over the workspace markdown tree.
type Index struct {
	store  *workspace.Store
	logger *slog.Logger

	mu      sync.RWMutex
	index   bleve.Index
	builtAt time.Time
}

// NewIndex creates an empty index for the given store. Call Rebuild to
// populate it.
func NewIndex(store *workspace.Store, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{store: store, logger: logger}
}

var titlePattern = regexp.MustCompile(`(?m)^#\s+(.+)`)

// Rebuild scans the workspace and swaps in a fresh index. Concurrent
// searches keep reading the previous snapshot until the swap.
func (ix *Index) Rebuild() error {
	mapping := bleve.NewIndexMapping()
	fresh, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	count := 0
	batch := fresh.NewBatch()
	for _, section := range []string{ix.store.CasesDir(), ix.store.ArchiveDir(), ix.store.DocsDir()} {
		count += ix.indexSection(batch, section)
	}
	if err := fresh.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}

	ix.mu.Lock()
	old := ix.index
	ix.index = fresh
	ix.builtAt = time.Now()
	ix.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	ix.logger.Debug("search index rebuilt", "documents", count)
	return nil
}

func (ix *Index) indexSection(batch *bleve.Batch, dir string) int {
	count := 0
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(name, ".md") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(ix.store.Root(), path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		doc := document{
			Title:   titleOf(content, name),
			Path:    rel,
			Section: strings.SplitN(rel, "/", 2)[0],
			Body:    string(content),
		}
		if err := batch.Index(rel, doc); err == nil {
			count++
		}
		return nil
	})
	return count
}

// Search runs a match query against the current snapshot.
func (ix *Index) Search(query string, limit int) ([]Result, error) {
	ix.mu.RLock()
	index := ix.index
	ix.mu.RUnlock()

	if index == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"title", "path", "section"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("body")

	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{
			Path:  hit.ID,
			Score: hit.Score,
		}
		if title, ok := hit.Fields["title"].(string); ok {
			r.Title = title
		}
		if section, ok := hit.Fields["section"].(string); ok {
			r.Section = section
		}
		for _, fragments := range hit.Fragments {
			r.Snippets = append(r.Snippets, fragments...)
		}
		results = append(results, r)
	}
	return results, nil
}

// BuiltAt reports when the current snapshot was built; zero before the
// first rebuild.
func (ix *Index) BuiltAt() time.Time {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.builtAt
}

// Close releases the current snapshot.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.index == nil {
		return nil
	}
	err := ix.index.Close()
	ix.index = nil
	return err
}

func titleOf(content []byte, fallback string) string {
	if m := titlePattern.FindSubmatch(content); m != nil {
		return strings.TrimSpace(string(m[1]))
	}
	return strings.TrimSuffix(fallback, ".md")
}
