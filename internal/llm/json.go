package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned by DecodeJSON when the text holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

// DecodeJSON unmarshals a model response into v. Models often wrap JSON in
// prose or Markdown fences, so when the whole text does not parse, the first
// balanced {...} object is tried instead.
func DecodeJSON(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	obj := FirstJSONObject(trimmed)
	if obj == "" {
		return ErrNoJSON
	}
	return json.Unmarshal([]byte(obj), v)
}

// FirstJSONObject returns the first balanced JSON object in s, or "".
// Braces inside string literals are ignored.
func FirstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
