package ai

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

const maxRepairCutback = 8

var (
	errNoJSON       = errors.New("no JSON object in reply")
	reTrailingComma = regexp.MustCompile(`,(\s*[\]}])`)
)

// ExtractJSONSpan returns the text from the first '{' to the last '}'. A
// reply that never closes its object yields everything after the first '{'.
func ExtractJSONSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		return text[start:], true
	}
	return text[start : end+1], true
}

// RepairTruncatedJSON closes whatever a cut-off reply left open. Trailing
// commas before closers are dropped, an unterminated string is closed and
// a dangling key separator gets a null value.
func RepairTruncatedJSON(s string) string {
	s = strings.TrimSpace(s)
	s = reTrailingComma.ReplaceAllString(s, "$1")

	var stack []byte
	inString, escape := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escape {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	tail := strings.TrimRight(b.String(), " \t\r\n")
	b.Reset()
	switch {
	case strings.HasSuffix(tail, ","):
		b.WriteString(strings.TrimSuffix(tail, ","))
	case strings.HasSuffix(tail, ":"):
		b.WriteString(tail)
		b.WriteString("null")
	default:
		b.WriteString(tail)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// decodeReply unmarshals the JSON object found in a model reply. Broken
// replies are repaired; if that still fails the tail is cut back to the
// previous comma a few times. repaired reports whether repair was needed.
func decodeReply(text string, v any) (repaired bool, err error) {
	span, ok := ExtractJSONSpan(text)
	if !ok {
		return false, errNoJSON
	}
	if err := json.Unmarshal([]byte(span), v); err == nil {
		return false, nil
	}

	start := strings.IndexByte(text, '{')
	candidate := strings.TrimSpace(text[start:])
	var lastErr error
	for range maxRepairCutback {
		lastErr = json.Unmarshal([]byte(RepairTruncatedJSON(candidate)), v)
		if lastErr == nil {
			return true, nil
		}
		cut := strings.LastIndexByte(candidate, ',')
		if cut <= 0 {
			break
		}
		candidate = candidate[:cut]
	}
	return false, lastErr
}
