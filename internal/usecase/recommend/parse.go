package recommend

import (
	"encoding/json"
	"strings"
)

// stripFences removes a surrounding Markdown code fence and an optional "json" language tag.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.Trim(raw, "`")
	raw = strings.TrimSpace(raw)
	if len(raw) >= 4 && strings.EqualFold(raw[:4], "json") {
		raw = strings.TrimSpace(raw[4:])
	}
	return raw
}

// parseTitles decodes a {"titles": [...]} answer. ok is false for anything unparseable.
func parseTitles(raw string) (titles []string, ok bool) {
	raw = stripFences(raw)
	if raw == "" {
		return nil, false
	}

	var out struct {
		Titles []any `json:"titles"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}

	for _, t := range out.Titles {
		if s, isString := t.(string); isString && strings.TrimSpace(s) != "" {
			titles = append(titles, strings.TrimSpace(s))
		}
	}
	return titles, true
}

// parseChoice decodes a {"title": "..."} answer. An empty title is a valid "none".
func parseChoice(raw string) (title string, ok bool) {
	raw = stripFences(raw)
	if raw == "" {
		return "", false
	}

	var out struct {
		Title *string `json:"title"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out.Title == nil {
		return "", false
	}
	return strings.TrimSpace(*out.Title), true
}
