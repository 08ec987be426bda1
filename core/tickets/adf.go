package tickets

import "encoding/json"

// ExtractText flattens an Atlassian Document Format payload to plain text.
// ADF is a nested node tree; only "text" leaves carry content. Payloads
// that are already plain strings pass through unchanged.
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return ""
	}
	return flattenNode(node)
}

func flattenNode(node any) string {
	switch n := node.(type) {
	case string:
		return n
	case map[string]any:
		if n["type"] == "text" {
			if text, ok := n["text"].(string); ok {
				return text
			}
			return ""
		}
		if content, ok := n["content"].([]any); ok {
			return flattenList(content)
		}
		return ""
	case []any:
		return flattenList(n)
	default:
		return ""
	}
}

func flattenList(nodes []any) string {
	var out string
	for _, child := range nodes {
		out += flattenNode(child)
	}
	return out
}
