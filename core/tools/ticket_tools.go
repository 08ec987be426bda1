package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/adalundhe/casehub/core/tickets"
)

const (
	fetchToolMaxComments = 10
	fetchToolMaxBody     = 500
	fetchToolMaxDesc     = 3000
	searchToolMaxResults = 20
)

// RegisterTicketTools adds the live ticket tools. They degrade to readable
// error text when the tracker is unconfigured or unreachable so the model
// can fall back to local files.
func RegisterTicketTools(registry *Registry, client *tickets.Client) error {
	fetchTool := &Tool{
		Name: "fetch_ticket",
		Description: "Fetch a ticket's live data including metadata, description, " +
			"and comments. Use when you need the latest ticket information from the " +
			"tracker, especially for tickets that may not have local case files yet.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticket_key": map[string]any{
					"type":        "string",
					"description": "The ticket key, e.g. 'SCRS-1930'.",
				},
			},
			"required": []any{"ticket_key"},
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				TicketKey string `json:"ticket_key"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			key := strings.TrimSpace(params.TicketKey)
			if key == "" {
				return "", fmt.Errorf("ticket_key is required")
			}

			issue, err := client.GetIssueCached(ctx, key)
			if err != nil {
				return ticketErrorText(key, err), nil
			}
			return formatIssueSummary(issue), nil
		},
	}
	if err := registry.Register(fetchTool); err != nil {
		return err
	}

	searchTool := &Tool{
		Name: "search_tickets",
		Description: "Search tickets using JQL (JIRA Query Language). Always scope " +
			"queries to the support project unless the user explicitly asks about " +
			"another project.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"jql": map[string]any{
					"type": "string",
					"description": "A JQL query string, e.g. " +
						"'project = SCRS AND status != Done ORDER BY updated DESC'.",
				},
			},
			"required": []any{"jql"},
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				JQL string `json:"jql"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			jql := strings.TrimSpace(params.JQL)
			if jql == "" {
				return "", fmt.Errorf("jql is required")
			}

			result, err := client.Search(ctx, jql, searchToolMaxResults)
			if err != nil {
				return ticketErrorText(jql, err), nil
			}
			if len(result.Issues) == 0 {
				return fmt.Sprintf("No tickets found for query: %s", jql), nil
			}
			return formatSearchSummary(result), nil
		},
	}
	return registry.Register(searchTool)
}

func ticketErrorText(subject string, err error) string {
	switch {
	case errors.Is(err, tickets.ErrNotConfigured):
		return "Ticket tracker credentials not configured."
	case errors.Is(err, tickets.ErrNotFound):
		return fmt.Sprintf("No ticket found for %s.", subject)
	default:
		return fmt.Sprintf("Ticket tracker request failed: %v", err)
	}
}

func formatIssueSummary(issue *tickets.Issue) string {
	f := issue.Fields

	var b strings.Builder
	fmt.Fprintf(&b, "**%s: %s**\n", issue.Key, f.Summary)
	fmt.Fprintf(&b, "Status: %s | Priority: %s\n", namedName(f.Status), namedName(f.Priority))
	fmt.Fprintf(&b, "Reporter: %s | Created: %s | Updated: %s\n",
		userName(f.Reporter), datePrefix(f.Created), datePrefix(f.Updated))
	if len(f.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(f.Labels, ", "))
	} else {
		b.WriteString("Labels: None\n")
	}

	description := tickets.ExtractText(f.Description)
	if len(description) > fetchToolMaxDesc {
		description = description[:fetchToolMaxDesc]
	}
	b.WriteString("\n**Description:**\n")
	b.WriteString(description)
	b.WriteString("\n")

	var shown []string
	var total int
	if f.Comment != nil {
		total = len(f.Comment.Comments)
		start := 0
		if total > fetchToolMaxComments {
			start = total - fetchToolMaxComments
		}
		for _, c := range f.Comment.Comments[start:] {
			body := strings.TrimSpace(tickets.ExtractText(c.Body))
			if body == "" {
				continue
			}
			if len(body) > fetchToolMaxBody {
				body = body[:fetchToolMaxBody]
			}
			shown = append(shown, fmt.Sprintf("[%s on %s]: %s", userName(c.Author), datePrefix(c.Created), body))
		}
	}

	fmt.Fprintf(&b, "\n**Comments (%d total, showing last %d):**\n", total, len(shown))
	if len(shown) > 0 {
		b.WriteString(strings.Join(shown, "\n"))
	} else {
		b.WriteString("No comments")
	}

	return b.String()
}

func formatSearchSummary(result *tickets.SearchResult) string {
	var b strings.Builder
	total := result.Total
	if total == 0 {
		total = len(result.Issues)
	}
	fmt.Fprintf(&b, "Found %d tickets (showing %d):\n", total, len(result.Issues))

	for _, issue := range result.Issues {
		f := issue.Fields
		fmt.Fprintf(&b, "- **%s**: %s [%s] (Priority: %s, Updated: %s",
			issue.Key, f.Summary, namedName(f.Status), namedName(f.Priority), datePrefix(f.Updated))
		if len(f.Labels) > 0 {
			fmt.Fprintf(&b, ", Labels: %s", strings.Join(f.Labels, ", "))
		}
		b.WriteString(")\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func namedName(f *tickets.NamedField) string {
	if f == nil || f.Name == "" {
		return "Unknown"
	}
	return f.Name
}

func userName(u *tickets.UserField) string {
	if u == nil || u.DisplayName == "" {
		return "Unknown"
	}
	return u.DisplayName
}

func datePrefix(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}
