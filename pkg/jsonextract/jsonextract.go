// Package jsonextract recovers a JSON value from noisy LLM output. Models
// asked for JSON routinely wrap it in prose or markdown fences; this package
// tries progressively more forgiving strategies before giving up.
package jsonextract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no recoverable JSON value exists in the input.
var ErrNoJSON = errors.New("jsonextract: no recoverable JSON value found")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// Extract returns the raw bytes of the first JSON value recoverable from raw.
// Recovery order: the trimmed input itself, then the interior of each fenced
// code block, then the first balanced object or array in the text.
func Extract(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrNoJSON
	}

	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(raw, -1) {
		inner := strings.TrimSpace(m[1])
		if inner != "" && json.Valid([]byte(inner)) {
			return []byte(inner), nil
		}
	}

	if v := scanBalanced(raw); v != "" {
		return []byte(v), nil
	}
	return nil, ErrNoJSON
}

// Unmarshal extracts a JSON value from raw and decodes it into out.
func Unmarshal(raw string, out any) error {
	data, err := Extract(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// scanBalanced finds the first balanced {...} or [...] substring that parses
// as JSON. Nesting depth is tracked for the opener's own bracket family only;
// brackets inside string literals are ignored, and a backslash inside a
// string escapes the following character.
func scanBalanced(raw string) string {
	for start := 0; start < len(raw); start++ {
		open := raw[start]
		if open != '{' && open != '[' {
			continue
		}
		var close byte = '}'
		if open == '[' {
			close = ']'
		}

		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(raw); i++ {
			c := raw[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case open:
				depth++
			case close:
				depth--
				if depth == 0 {
					candidate := raw[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate
					}
					// Not valid JSON after all; resume after this opener.
					i = len(raw)
				}
			}
			if depth < 0 {
				break
			}
		}
	}
	return ""
}
