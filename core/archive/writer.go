package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adalundhe/casehub/core/tickets"
)

// writeArchive durably writes archived content to archive/MM-YYYY/KEY.md.
// The file is written to a temp name, fsynced, then renamed into place so a
// crash never leaves a partial archive file.
func (s *Syncer) writeArchive(issue *tickets.Issue, content string) (string, error) {
	monthDir := filepath.Join(s.store.ArchiveDir(), s.archiveMonth(issue))
	if err := os.MkdirAll(monthDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive folder: %w", err)
	}

	finalPath := filepath.Join(monthDir, issue.Key+".md")

	tmp, err := os.CreateTemp(monthDir, issue.Key+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write archive file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("sync archive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close archive file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("finalize archive file: %w", err)
	}

	rel, err := filepath.Rel(s.store.Root(), finalPath)
	if err != nil {
		return finalPath, nil
	}
	return filepath.ToSlash(rel), nil
}
