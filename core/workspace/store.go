// Package workspace reads and writes the on-disk case tree. The filesystem
// is the source of truth: one folder per active case under cases/, archived
// cases as single markdown files under archive/MM-YYYY/. The store never
// invents case identifiers; keys come from folder names owned by the user.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	// ErrCaseNotFound indicates the case key has no folder under the
	// active tree (and, where relevant, no archived file either).
	ErrCaseNotFound = errors.New("case not found")

	// ErrInvalidStatus indicates a status value outside the known set.
	ErrInvalidStatus = errors.New("invalid case status")
)

// Status is the local workflow state of a case. It is workspace metadata,
// independent of the external ticket system's status.
type Status string

const (
	StatusTriage               Status = "triage"
	StatusInvestigating        Status = "investigating"
	StatusBlocked              Status = "blocked"
	StatusWaitingExternal      Status = "waiting_external"
	StatusEscalatedEngineering Status = "escalated_engineering"
	StatusResolved             Status = "resolved"
)

// ValidStatuses enumerates every accepted status value, in workflow order.
var ValidStatuses = []Status{
	StatusTriage,
	StatusInvestigating,
	StatusBlocked,
	StatusWaitingExternal,
	StatusEscalatedEngineering,
	StatusResolved,
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	for _, valid := range ValidStatuses {
		if s == valid {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Meta is the mutable per-case metadata persisted in meta.json.
type Meta struct {
	Status   Status `json:"status"`
	Assignee string `json:"assignee"`
}

// DefaultMeta is what a case without a (readable) meta.json reports.
func DefaultMeta() Meta {
	return Meta{Status: StatusTriage}
}

// Case describes one active case folder.
type Case struct {
	Key          string    `json:"key"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	Assignee     string    `json:"assignee"`
	Files        []string  `json:"files"`
	LastModified time.Time `json:"last_modified"`
}

// Store provides access to the case tree rooted at a workspace directory.
type Store struct {
	root string
}

// NewStore creates a store over the given workspace root. The root must
// exist; cases/ and archive/ are created on demand.
func NewStore(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", root)
	}
	return &Store{root: root}, nil
}

// Root returns the workspace root directory.
func (s *Store) Root() string { return s.root }

// CasesDir returns the active case tree.
func (s *Store) CasesDir() string { return filepath.Join(s.root, "cases") }

// ArchiveDir returns the archive tree.
func (s *Store) ArchiveDir() string { return filepath.Join(s.root, "archive") }

// DocsDir returns the documentation tree.
func (s *Store) DocsDir() string { return filepath.Join(s.root, "docs") }

var headingPattern = regexp.MustCompile(`(?m)^#\s+(.+)`)

// List returns every active case, newest-modified first.
func (s *Store) List() ([]Case, error) {
	entries, err := os.ReadDir(s.CasesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list cases: %w", err)
	}

	cases := make([]Case, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		c, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		cases = append(cases, c)
	}

	sort.Slice(cases, func(i, j int) bool {
		return cases[i].LastModified.After(cases[j].LastModified)
	})
	return cases, nil
}

// Get returns one active case by key.
func (s *Store) Get(key string) (Case, error) {
	dir, err := s.caseDir(key)
	if err != nil {
		return Case{}, err
	}

	meta := s.readMeta(dir)
	c := Case{
		Key:      key,
		Title:    key,
		Status:   meta.Status,
		Assignee: meta.Assignee,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Case{}, fmt.Errorf("read case %s: %w", key, err)
	}

	var latest time.Time
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".md") {
			c.Files = append(c.Files, entry.Name())
		}
		if info, err := entry.Info(); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	sort.Strings(c.Files)
	c.LastModified = latest

	// Title comes from the first heading of notes.md when present.
	if notes, err := os.ReadFile(filepath.Join(dir, "notes.md")); err == nil {
		if m := headingPattern.FindSubmatch(notes); m != nil {
			c.Title = strings.TrimSpace(string(m[1]))
		}
	}

	return c, nil
}

// ReadNotes returns the concatenated markdown content of a case, one
// section per file, for tool output and summary generation.
func (s *Store) ReadNotes(key string) (string, error) {
	dir, err := s.caseDir(key)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read case %s: %w", key, err)
	}

	var b strings.Builder
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== %s ===\n%s", name, content)
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %s has no notes", ErrCaseNotFound, key)
	}
	return b.String(), nil
}

// ReadArchived returns the archived markdown for a key, scanning every
// month folder. Returns ErrCaseNotFound when the key was never archived.
func (s *Store) ReadArchived(key string) (string, error) {
	path, err := s.FindArchived(key)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read archived %s: %w", key, err)
	}
	return string(content), nil
}

// FindArchived locates the archived file for a key, if any.
func (s *Store) FindArchived(key string) (string, error) {
	months, err := os.ReadDir(s.ArchiveDir())
	if err != nil {
		return "", ErrCaseNotFound
	}
	for _, month := range months {
		if !month.IsDir() {
			continue
		}
		path := filepath.Join(s.ArchiveDir(), month.Name(), key+".md")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrCaseNotFound
}

// ReadMeta returns the metadata of an active case.
func (s *Store) ReadMeta(key string) (Meta, error) {
	dir, err := s.caseDir(key)
	if err != nil {
		return Meta{}, err
	}
	return s.readMeta(dir), nil
}

// WriteMeta persists metadata for an active case.
func (s *Store) WriteMeta(key string, meta Meta) error {
	dir, err := s.caseDir(key)
	if err != nil {
		return err
	}
	if _, err := ParseStatus(string(meta.Status)); err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	data = append(data, '\n')

	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o644)
}

// RemoveCase deletes an active case folder. Used by the archive commit
// after the destination write is durable.
func (s *Store) RemoveCase(key string) error {
	dir, err := s.caseDir(key)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *Store) caseDir(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", ErrCaseNotFound, key)
	}
	dir := filepath.Join(s.CasesDir(), key)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrCaseNotFound, key)
	}
	return dir, nil
}

// readMeta tolerates a missing or corrupt meta.json, returning defaults.
func (s *Store) readMeta(dir string) Meta {
	meta := DefaultMeta()

	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta
	}

	var raw struct {
		Status   string `json:"status"`
		Assignee string `json:"assignee"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return meta
	}

	if status, err := ParseStatus(raw.Status); err == nil {
		meta.Status = status
	}
	meta.Assignee = strings.TrimSpace(raw.Assignee)
	return meta
}
