package tickets

import (
	"fmt"
	"strings"
	"time"
)

// FormatMarkdown renders a fetched issue as the archival markdown document:
// a metadata table, the description, and the full comment thread.
func FormatMarkdown(issue *Issue) string {
	f := issue.Fields

	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", issue.Key, orDefault(f.Summary, "No summary"))

	b.WriteString("## Metadata\n")
	b.WriteString("| Field | Value |\n|-------|-------|\n")
	writeRow(&b, "Status", namedOr(f.Status, "Unknown"))
	writeRow(&b, "Priority", namedOr(f.Priority, "Unknown"))
	writeRow(&b, "Reporter", userOr(f.Reporter, "Unknown"))
	writeRow(&b, "Assignee", userOr(f.Assignee, "Unassigned"))
	writeRow(&b, "Created", datePart(f.Created))
	writeRow(&b, "Updated", datePart(f.Updated))
	if f.Resolution != nil && f.Resolution.Name != "" {
		writeRow(&b, "Resolution", f.Resolution.Name)
	}
	labels := "None"
	if len(f.Labels) > 0 {
		labels = strings.Join(f.Labels, ", ")
	}
	writeRow(&b, "Labels", labels)

	b.WriteString("\n## Description\n")
	description := strings.TrimSpace(ExtractText(f.Description))
	if description == "" {
		description = "No description"
	}
	b.WriteString(description)
	b.WriteString("\n")

	b.WriteString("\n## Comments\n")
	if f.Comment == nil || len(f.Comment.Comments) == 0 {
		b.WriteString("No comments\n")
	} else {
		for i, comment := range f.Comment.Comments {
			if i > 0 {
				b.WriteString("\n---\n")
			}
			fmt.Fprintf(&b, "### %s (%s)\n%s\n",
				userOr(comment.Author, "Unknown"),
				datePart(comment.Created),
				strings.TrimSpace(ExtractText(comment.Body)))
		}
	}

	fmt.Fprintf(&b, "\n---\n*Archived: %s*\n", time.Now().Format(time.RFC3339))
	return b.String()
}

// Activity is the recent-state snapshot attached to sync preview and
// commit results so the caller can review what changed externally.
type Activity struct {
	Status       string         `json:"status"`
	Summary      string         `json:"summary"`
	Updated      string         `json:"updated"`
	Assignee     string         `json:"assignee,omitempty"`
	LastComments []ActivityNote `json:"last_comments,omitempty"`
}

// ActivityNote is one recent comment, truncated for display.
type ActivityNote struct {
	Author string `json:"author"`
	Date   string `json:"date"`
	Body   string `json:"body"`
}

// maxActivityComments bounds how many trailing comments a snapshot carries.
const maxActivityComments = 2

// ExtractActivity summarizes an issue's current external state.
func ExtractActivity(issue *Issue) Activity {
	f := issue.Fields

	activity := Activity{
		Status:   issue.StatusName(),
		Summary:  f.Summary,
		Updated:  strings.Replace(truncate(f.Updated, 16), "T", " ", 1),
		Assignee: userOr(f.Assignee, ""),
	}

	if f.Comment != nil {
		comments := f.Comment.Comments
		start := len(comments) - maxActivityComments
		if start < 0 {
			start = 0
		}
		for _, comment := range comments[start:] {
			activity.LastComments = append(activity.LastComments, ActivityNote{
				Author: userOr(comment.Author, "Unknown"),
				Date:   datePart(comment.Created),
				Body:   truncate(strings.TrimSpace(ExtractText(comment.Body)), 300),
			})
		}
	}

	return activity
}

func writeRow(b *strings.Builder, field, value string) {
	fmt.Fprintf(b, "| **%s** | %s |\n", field, value)
}

func namedOr(field *NamedField, fallback string) string {
	if field == nil || field.Name == "" {
		return fallback
	}
	return field.Name
}

func userOr(field *UserField, fallback string) string {
	if field == nil || field.DisplayName == "" {
		return fallback
	}
	return field.DisplayName
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// datePart keeps the YYYY-MM-DD prefix of an API timestamp.
func datePart(timestamp string) string {
	return truncate(timestamp, 10)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
