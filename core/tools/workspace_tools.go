package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adalundhe/casehub/core/search"
	"github.com/adalundhe/casehub/core/workspace"
)

const searchToolLimit = 10

// RegisterWorkspaceTools adds the local-file tools: full-text search over
// the workspace and reading a single case.
func RegisterWorkspaceTools(registry *Registry, store *workspace.Store, index *search.Index) error {
	searchTool := &Tool{
		Name: "search_workspace",
		Description: "Search through all local case notes, archived cases, and " +
			"documentation files for relevant content. Returns matching excerpts " +
			"with file paths. Use this when looking for patterns, past cases, or " +
			"specific topics across the workspace.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Keywords to search for across all local markdown files.",
				},
			},
			"required": []any{"query"},
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if strings.TrimSpace(params.Query) == "" {
				return "", fmt.Errorf("query is required")
			}

			results, err := index.Search(params.Query, searchToolLimit)
			if err != nil {
				return "", fmt.Errorf("search failed: %w", err)
			}
			if len(results) == 0 {
				return fmt.Sprintf("No local files found matching %q.", params.Query), nil
			}

			return formatSearchResults(results), nil
		},
	}
	if err := registry.Register(searchTool); err != nil {
		return err
	}

	readTool := &Tool{
		Name: "read_case",
		Description: "Read the full contents of a local case or archived case. " +
			"Checks both the active cases folder and the archive. Use when the " +
			"user asks about a specific case key.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"case_key": map[string]any{
					"type":        "string",
					"description": "The case key, e.g. 'SCRS-1930'.",
				},
			},
			"required": []any{"case_key"},
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				CaseKey string `json:"case_key"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			key := strings.TrimSpace(params.CaseKey)
			if key == "" {
				return "", fmt.Errorf("case_key is required")
			}

			if notes, err := store.ReadNotes(key); err == nil && notes != "" {
				return notes, nil
			}
			if archived, err := store.ReadArchived(key); err == nil {
				return archived, nil
			}

			return fmt.Sprintf("No local case or archived case found for %s.", key), nil
		},
	}
	return registry.Register(readTool)
}

func formatSearchResults(results []search.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		title := r.Title
		if title == "" {
			title = r.Path
		}
		fmt.Fprintf(&b, "**%s** (%s)", title, r.Path)
		if len(r.Snippets) > 0 {
			b.WriteString(":\n")
			b.WriteString(strings.Join(r.Snippets, "\n...\n"))
		}
	}
	return b.String()
}
