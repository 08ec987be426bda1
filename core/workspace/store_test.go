package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func writeCase(t *testing.T, store *Store, key string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(store.CasesDir(), key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    Status
		wantErr bool
	}{
		{raw: "triage", want: StatusTriage},
		{raw: "  Investigating ", want: StatusInvestigating},
		{raw: "ESCALATED_ENGINEERING", want: StatusEscalatedEngineering},
		{raw: "done", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseStatus(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidStatus) {
					t.Errorf("ParseStatus(%q) error = %v, want ErrInvalidStatus", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatus(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestStore_GetReadsTitleAndFiles(t *testing.T) {
	store := newTestStore(t)
	writeCase(t, store, "SCRS-100", map[string]string{
		"notes.md":    "# Broken signal rule\n\ndetails here",
		"response.md": "draft",
		"data.json":   "{}",
	})

	c, err := store.Get("SCRS-100")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if c.Title != "Broken signal rule" {
		t.Errorf("Title = %q, want %q", c.Title, "Broken signal rule")
	}
	if c.Status != StatusTriage {
		t.Errorf("Status = %q, want default %q", c.Status, StatusTriage)
	}
	if len(c.Files) != 2 || c.Files[0] != "notes.md" || c.Files[1] != "response.md" {
		t.Errorf("Files = %v, want [notes.md response.md]", c.Files)
	}
	if c.LastModified.IsZero() {
		t.Error("LastModified is zero")
	}
}

func TestStore_GetTitleFallsBackToKey(t *testing.T) {
	store := newTestStore(t)
	writeCase(t, store, "SCRS-110", map[string]string{"notes.md": "no heading"})

	c, err := store.Get("SCRS-110")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if c.Title != "SCRS-110" {
		t.Errorf("Title = %q, want key fallback", c.Title)
	}
}

func TestStore_GetMissingCase(t *testing.T) {
	store := newTestStore(t)

	for _, key := range []string{"SCRS-999", "", "../escape", ".hidden"} {
		if _, err := store.Get(key); !errors.Is(err, ErrCaseNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrCaseNotFound", key, err)
		}
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	writeCase(t, store, "SCRS-1", map[string]string{"notes.md": "# Old"})
	writeCase(t, store, "SCRS-2", map[string]string{"notes.md": "# New"})

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(store.CasesDir(), "SCRS-1", "notes.md"), old, old); err != nil {
		t.Fatal(err)
	}

	cases, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("len(cases) = %d, want 2", len(cases))
	}
	if cases[0].Key != "SCRS-2" || cases[1].Key != "SCRS-1" {
		t.Errorf("order = [%s %s], want [SCRS-2 SCRS-1]", cases[0].Key, cases[1].Key)
	}
}

func TestStore_ListEmptyWorkspace(t *testing.T) {
	store := newTestStore(t)

	cases, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(cases) != 0 {
		t.Errorf("len(cases) = %d, want 0", len(cases))
	}
}

func TestStore_ReadNotesConcatenatesSections(t *testing.T) {
	store := newTestStore(t)
	writeCase(t, store, "SCRS-120", map[string]string{
		"notes.md":    "# Title\nbody",
		"response.md": "draft reply",
	})

	notes, err := store.ReadNotes("SCRS-120")
	if err != nil {
		t.Fatalf("ReadNotes() error = %v", err)
	}

	if !strings.Contains(notes, "=== notes.md ===") {
		t.Error("missing notes.md section header")
	}
	if !strings.Contains(notes, "=== response.md ===") {
		t.Error("missing response.md section header")
	}
	if !strings.Contains(notes, "draft reply") {
		t.Error("missing response.md content")
	}
}

func TestStore_MetaRoundTrip(t *testing.T) {
	store := newTestStore(t)
	writeCase(t, store, "SCRS-130", map[string]string{"notes.md": "# X"})

	meta, err := store.ReadMeta("SCRS-130")
	if err != nil {
		t.Fatalf("ReadMeta() error = %v", err)
	}
	if meta.Status != StatusTriage {
		t.Errorf("default Status = %q, want %q", meta.Status, StatusTriage)
	}

	meta.Status = StatusEscalatedEngineering
	meta.Assignee = "dana"
	if err := store.WriteMeta("SCRS-130", meta); err != nil {
		t.Fatalf("WriteMeta() error = %v", err)
	}

	got, err := store.ReadMeta("SCRS-130")
	if err != nil {
		t.Fatalf("ReadMeta() error = %v", err)
	}
	if got != meta {
		t.Errorf("ReadMeta() = %+v, want %+v", got, meta)
	}
}

func TestStore_WriteMetaRejectsInvalidStatus(t *testing.T) {
	store := newTestStore(t)
	writeCase(t, store, "SCRS-140", map[string]string{"notes.md": "# X"})

	err := store.WriteMeta("SCRS-140", Meta{Status: "done"})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("WriteMeta() error = %v, want ErrInvalidStatus", err)
	}
}

func TestStore_ReadMetaToleratesCorruptFile(t *testing.T) {
	store := newTestStore(t)
	writeCase(t, store, "SCRS-150", map[string]string{
		"notes.md":  "# X",
		"meta.json": "{not json",
	})

	meta, err := store.ReadMeta("SCRS-150")
	if err != nil {
		t.Fatalf("ReadMeta() error = %v", err)
	}
	if meta != DefaultMeta() {
		t.Errorf("ReadMeta() = %+v, want defaults", meta)
	}
}

func TestStore_FindArchivedScansAllMonths(t *testing.T) {
	store := newTestStore(t)

	monthDir := filepath.Join(store.ArchiveDir(), "03-2026")
	if err := os.MkdirAll(monthDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(monthDir, "SCRS-160.md")
	if err := os.WriteFile(path, []byte("# SCRS-160: fixed"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := store.FindArchived("SCRS-160")
	if err != nil {
		t.Fatalf("FindArchived() error = %v", err)
	}
	if got != path {
		t.Errorf("FindArchived() = %q, want %q", got, path)
	}

	content, err := store.ReadArchived("SCRS-160")
	if err != nil {
		t.Fatalf("ReadArchived() error = %v", err)
	}
	if !strings.Contains(content, "fixed") {
		t.Errorf("ReadArchived() = %q, missing content", content)
	}

	if _, err := store.FindArchived("SCRS-999"); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("FindArchived(missing) error = %v, want ErrCaseNotFound", err)
	}
}

func TestStore_RemoveCase(t *testing.T) {
	store := newTestStore(t)
	writeCase(t, store, "SCRS-170", map[string]string{"notes.md": "# X"})

	if err := store.RemoveCase("SCRS-170"); err != nil {
		t.Fatalf("RemoveCase() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.CasesDir(), "SCRS-170")); !os.IsNotExist(err) {
		t.Error("case folder still exists")
	}
}
