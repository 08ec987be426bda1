// Package archive implements the workspace sync pass: checking every
// active case against the ticket system and moving completed ones into the
// month-partitioned archive.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adalundhe/casehub/core/tickets"
	"github.com/adalundhe/casehub/core/workspace"
)

var (
	// ErrSyncInProgress indicates a commit is already running. Commits are
	// process-exclusive; callers retry later instead of queueing.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// terminalStatuses are the tracker statuses that make a case eligible for
// archiving. Matching is case-insensitive on the trimmed status name.
var terminalStatuses = map[string]bool{
	"done":                 true,
	"done (zd automation)": true,
	"closed":               true,
	"resolved":             true,
	"won't do":             true,
	"cancelled":            true,
}

// IsTerminalStatus reports whether a tracker status ends a case.
func IsTerminalStatus(status string) bool {
	return terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// Summarizer produces a short archival summary of case content. A failure
// is recorded, not fatal: the case archives without a summary block.
type Summarizer interface {
	Summarize(ctx context.Context, key, content string) (string, error)
}

// CaseState describes one active case in a preview.
type CaseState struct {
	Key          string           `json:"key"`
	TicketStatus string           `json:"ticket_status"`
	Activity     tickets.Activity `json:"activity"`
}

// Preview is the read-only result of a sync check.
type Preview struct {
	Checked      int         `json:"checked"`
	WouldArchive []CaseState `json:"would_archive"`
	StillActive  []CaseState `json:"still_active"`
	Skipped      []string    `json:"skipped"`
	Errors       []CaseError `json:"errors"`
}

// CaseError records a per-case failure without aborting the pass.
type CaseError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Outcome classifies what happened to one candidate during commit.
type Outcome string

const (
	OutcomeArchived Outcome = "archived"
	OutcomeConflict Outcome = "conflict"
	OutcomeError    Outcome = "error"
)

// CaseResult is the commit outcome for one candidate.
type CaseResult struct {
	Key            string           `json:"key"`
	Outcome        Outcome          `json:"outcome"`
	TicketStatus   string           `json:"ticket_status,omitempty"`
	ArchivePath    string           `json:"archive_path,omitempty"`
	SummarySkipped bool             `json:"summary_skipped,omitempty"`
	Error          string           `json:"error,omitempty"`
	Activity       tickets.Activity `json:"activity,omitempty"`
}

// CommitResult is the full result of a sync commit.
type CommitResult struct {
	Checked     int          `json:"checked"`
	Archived    []CaseResult `json:"archived"`
	Conflicts   []CaseResult `json:"conflicts"`
	StillActive []CaseState  `json:"still_active"`
	Skipped     []string     `json:"skipped"`
	Errors      []CaseError  `json:"errors"`
}

// Syncer drives preview and commit over the workspace and ticket system.
type Syncer struct {
	store      *workspace.Store
	client     *tickets.Client
	summarizer Summarizer
	logger     *slog.Logger

	// projectPrefix scopes sync to tracker-managed cases; everything else
	// is reported as skipped.
	projectPrefix string

	commitMu sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// NewSyncer creates a syncer. projectPrefix is the ticket key prefix that
// marks a case as tracker-managed, e.g. "SCRS-".
func NewSyncer(store *workspace.Store, client *tickets.Client, summarizer Summarizer, projectPrefix string, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:         store,
		client:        client,
		summarizer:    summarizer,
		projectPrefix: projectPrefix,
		logger:        logger.With("component", "sync"),
		now:           time.Now,
	}
}

// Preview checks every active case against the tracker without touching
// the filesystem. Safe to call repeatedly and concurrently.
func (s *Syncer) Preview(ctx context.Context) (*Preview, error) {
	keys, skipped, err := s.partitionKeys()
	if err != nil {
		return nil, err
	}

	preview := &Preview{
		Checked:      len(keys),
		WouldArchive: []CaseState{},
		StillActive:  []CaseState{},
		Skipped:      skipped,
		Errors:       []CaseError{},
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		issue, err := s.client.GetIssue(ctx, key)
		if err != nil {
			preview.Errors = append(preview.Errors, CaseError{Key: key, Error: err.Error()})
			continue
		}

		state := CaseState{
			Key:          key,
			TicketStatus: issue.StatusName(),
			Activity:     tickets.ExtractActivity(issue),
		}
		if IsTerminalStatus(state.TicketStatus) {
			preview.WouldArchive = append(preview.WouldArchive, state)
		} else {
			preview.StillActive = append(preview.StillActive, state)
		}
	}

	return preview, nil
}

// Commit archives every case the tracker reports as terminal. A non-empty
// approved list restricts the pass to those keys, so callers can confirm a
// preview subset. Only one commit runs at a time; a concurrent call fails
// with ErrSyncInProgress.
func (s *Syncer) Commit(ctx context.Context, approved []string) (*CommitResult, error) {
	if !s.commitMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.commitMu.Unlock()

	keys, skipped, err := s.partitionKeys()
	if err != nil {
		return nil, err
	}
	keys = filterApproved(keys, approved)

	result := &CommitResult{
		Checked:     len(keys),
		Archived:    []CaseResult{},
		Conflicts:   []CaseResult{},
		StillActive: []CaseState{},
		Skipped:     skipped,
		Errors:      []CaseError{},
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		issue, err := s.client.GetIssue(ctx, key)
		if err != nil {
			result.Errors = append(result.Errors, CaseError{Key: key, Error: err.Error()})
			continue
		}

		status := issue.StatusName()
		activity := tickets.ExtractActivity(issue)

		if !IsTerminalStatus(status) {
			result.StillActive = append(result.StillActive, CaseState{
				Key:          key,
				TicketStatus: status,
				Activity:     activity,
			})
			continue
		}

		caseResult := s.archiveCase(ctx, issue)
		caseResult.TicketStatus = status
		caseResult.Activity = activity

		switch caseResult.Outcome {
		case OutcomeArchived:
			result.Archived = append(result.Archived, caseResult)
		case OutcomeConflict:
			result.Conflicts = append(result.Conflicts, caseResult)
		default:
			result.Errors = append(result.Errors, CaseError{Key: key, Error: caseResult.Error})
		}
	}

	return result, nil
}

// archiveCase moves one completed case into the archive. The archived file
// is durably written before the active folder is removed, so a crash in
// between leaves both copies rather than neither.
func (s *Syncer) archiveCase(ctx context.Context, issue *tickets.Issue) CaseResult {
	key := issue.Key
	result := CaseResult{Key: key}

	if existing, err := s.store.FindArchived(key); err == nil {
		result.Outcome = OutcomeConflict
		result.ArchivePath = existing
		result.Error = fmt.Sprintf("already archived at %s", existing)
		s.logger.Warn("archive conflict", "key", key, "existing", existing)
		return result
	}

	localNotes, _ := s.store.ReadNotes(key)

	content := tickets.FormatMarkdown(issue)

	summaryInput := content
	if localNotes != "" {
		summaryInput += "\n\n---\n## Local Case Notes\n" + localNotes
	}

	summary, err := s.summarizer.Summarize(ctx, key, summaryInput)
	if err != nil || summary == "" {
		result.SummarySkipped = true
		if err != nil {
			s.logger.Warn("summary generation skipped", "key", key, "error", err)
		}
	} else {
		content = insertSummaryBlock(content, key, summary)
	}

	if localNotes != "" {
		content += "\n\n---\n## Local Case Notes\n" + localNotes
	}

	path, err := s.writeArchive(issue, content)
	if err != nil {
		result.Outcome = OutcomeError
		result.Error = err.Error()
		return result
	}
	result.ArchivePath = path

	if err := s.store.RemoveCase(key); err != nil {
		// The archived copy is already durable; report but keep going.
		result.Outcome = OutcomeError
		result.Error = fmt.Sprintf("archived to %s but could not remove active case: %v", path, err)
		s.logger.Error("case removal failed after archive", "key", key, "error", err)
		return result
	}

	result.Outcome = OutcomeArchived
	s.logger.Info("case archived", "key", key, "path", path)
	return result
}

// insertSummaryBlock places the summary quote right after the first
// heading line.
func insertSummaryBlock(content, key, summary string) string {
	heading, rest, found := strings.Cut(content, "\n")
	if !found {
		heading = "# " + key
		rest = content
	}
	return fmt.Sprintf("%s\n\n> **AI Summary:** %s\n%s", heading, summary, rest)
}

// archiveMonth derives the destination folder from when the ticket was
// completed, falling back to the current month when the tracker has no
// resolution date.
func (s *Syncer) archiveMonth(issue *tickets.Issue) string {
	for _, stamp := range []string{issue.Fields.ResolutionDate, issue.Fields.Updated} {
		if len(stamp) >= 7 {
			// Timestamps are ISO 8601: YYYY-MM-...
			return stamp[5:7] + "-" + stamp[0:4]
		}
	}
	return s.now().Format("01-2006")
}

// filterApproved keeps only the approved keys. An empty approval list
// means everything is approved.
func filterApproved(keys, approved []string) []string {
	if len(approved) == 0 {
		return keys
	}
	allowed := make(map[string]bool, len(approved))
	for _, k := range approved {
		allowed[k] = true
	}
	filtered := keys[:0]
	for _, k := range keys {
		if allowed[k] {
			filtered = append(filtered, k)
		}
	}
	return filtered
}

func (s *Syncer) partitionKeys() (keys, skipped []string, err error) {
	cases, err := s.store.List()
	if err != nil {
		return nil, nil, err
	}

	skipped = []string{}
	for _, c := range cases {
		if strings.HasPrefix(c.Key, s.projectPrefix) {
			keys = append(keys, c.Key)
		} else {
			skipped = append(skipped, c.Key)
		}
	}
	return keys, skipped, nil
}
