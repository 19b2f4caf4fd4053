package llm

import (
	"encoding/json"
	"log"
	"strings"
)

// ParseResult is the outcome of parsing a structured reply. Exactly one of
// Value and Raw is meaningful, depending on OK.
type ParseResult[T any] struct {
	OK    bool
	Value T
	Raw   string
}

// Malformed reports whether the reply could not be parsed.
func (r ParseResult[T]) Malformed() bool { return !r.OK }

// ParseInto decodes a structured reply into T, tolerating markdown fences
// and prose around the JSON object.
func ParseInto[T any](text string) ParseResult[T] {
	var v T
	body := extractJSON(text)
	if body == "" {
		return ParseResult[T]{Raw: text}
	}
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		log.Printf("Failed to parse LLM response as JSON: %v", err)
		return ParseResult[T]{Raw: text}
	}
	return ParseResult[T]{OK: true, Value: v, Raw: text}
}

// ParseJSONResponse parses a JSON object reply from an LLM, handling
// markdown code blocks. It returns nil when the reply is not a JSON object.
func ParseJSONResponse(text string) map[string]any {
	r := ParseInto[map[string]any](text)
	if !r.OK {
		return nil
	}
	return r.Value
}

// extractJSON strips code fences and returns the outermost {...} span.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		if len(lines) > 1 {
			text = strings.Join(lines[1:endIdx], "\n")
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// GetString returns m[key] as a trimmed string, or fallback.
func GetString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return fallback
}

// GetInt returns m[key] as an int, accepting numbers and numeric strings.
func GetInt(m map[string]any, key string, fallback int) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		case string:
			var f float64
			if err := json.Unmarshal([]byte(strings.TrimSpace(n)), &f); err == nil {
				return int(f)
			}
		}
	}
	return fallback
}

// GetStrings returns the string elements of m[key] when it is an array.
func GetStrings(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range arr {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
