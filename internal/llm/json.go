package llm

import "strings"

// LocateJSONArray returns the first bracket-balanced `[...]` substring of s,
// stripping any surrounding markdown code fences first. Returns ok=false when
// no complete array is present; callers treat that as zero candidates.
//
// Bracket matching ignores brackets inside JSON string literals so topics
// containing '[' or ']' don't break extraction.
func LocateJSONArray(s string) (string, bool) {
	s = StripCodeFences(s)

	start := strings.IndexByte(s, '[')
	if start == -1 {
		return "", false
	}

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
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// StripCodeFences removes ```json ... ``` wrapping from LLM output.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		// Remove opening fence (with optional language tag).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		// Remove closing fence.
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// Truncate shortens s to at most n bytes for prompts and logging.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
