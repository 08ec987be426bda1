// Package tickets is the client for the external ticket system (a
// JIRA-style REST v3 API). The core treats it as a read-only collaborator:
// fetch one issue by key, search by query language, and render fetched
// issues to markdown for archiving.
package tickets

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound indicates the ticket key does not exist.
	ErrNotFound = errors.New("ticket not found")

	// ErrUnavailable indicates the ticket system could not be reached
	// after retries. Surfaced to the caller, never retried indefinitely.
	ErrUnavailable = errors.New("ticket system unavailable")

	// ErrNotConfigured indicates missing endpoint or credentials.
	ErrNotConfigured = errors.New("ticket system not configured")
)

// Issue is a ticket as returned by the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields holds the subset of fields the core consumes.
type IssueFields struct {
	Summary        string          `json:"summary"`
	Description    json.RawMessage `json:"description"` // ADF document or plain text
	Status         *NamedField     `json:"status"`
	Priority       *NamedField     `json:"priority"`
	Reporter       *UserField      `json:"reporter"`
	Assignee       *UserField      `json:"assignee"`
	Labels         []string        `json:"labels"`
	Created        string          `json:"created"`
	Updated        string          `json:"updated"`
	Resolution     *NamedField     `json:"resolution"`
	ResolutionDate string          `json:"resolutiondate"`
	Comment        *CommentPage    `json:"comment"`
}

// NamedField is the common {id, name} shape of status, priority, resolution.
type NamedField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserField identifies a ticket-system user.
type UserField struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// CommentPage is the paged comment container embedded in an issue.
type CommentPage struct {
	Total    int       `json:"total"`
	Comments []Comment `json:"comments"`
}

// Comment is a single issue comment; Body is ADF.
type Comment struct {
	Author  *UserField      `json:"author"`
	Created string          `json:"created"`
	Body    json.RawMessage `json:"body"`
}

// SearchResult is the JQL search response shape.
type SearchResult struct {
	Total  int     `json:"total"`
	Issues []Issue `json:"issues"`
}

// StatusName returns the issue's status name, or "Unknown".
func (i *Issue) StatusName() string {
	if i.Fields.Status == nil || i.Fields.Status.Name == "" {
		return "Unknown"
	}
	return i.Fields.Status.Name
}
