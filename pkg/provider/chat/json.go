package chat

import (
	"encoding/json"
	"strings"
)

// ExtractObject locates the first complete JSON object embedded in model
// output and returns its raw bytes. Models frequently wrap structured output
// in prose or Markdown code fences even when instructed not to; this strips
// both. Returns false when no valid object can be found.
func ExtractObject(s string) (json.RawMessage, bool) {
	s = stripFences(s)

	for start := strings.IndexByte(s, '{'); start >= 0; {
		end, ok := matchBrace(s, start)
		if !ok {
			break
		}
		candidate := s[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return nil, false
}

// stripFences removes a surrounding Markdown code fence, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// matchBrace returns the index of the brace closing the object that opens at
// start, honouring JSON string literals and escapes.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
