package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reNonNumeric    = regexp.MustCompile(`[^\d.,]`)
	reThousandsDot  = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reThousandsComa = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
)

// ParsePriceNumber keeps digits and separators, turns the first comma into
// a decimal dot and parses the rest as a float ("1 234,50 zł" -> 1234.5).
func ParsePriceNumber(input string) (float64, bool) {
	cleaned := reNonNumeric.ReplaceAllString(input, "")
	if cleaned == "" {
		return 0, false
	}
	cleaned = strings.Replace(cleaned, ",", ".", 1)
	parsed, ok := parseLeadingFloat(cleaned)
	if !ok {
		return 0, false
	}
	return parsed, true
}

// ParseNumber accepts thousands separators in either convention.
func ParseNumber(input string) (float64, bool) {
	token := strings.ReplaceAll(strings.TrimSpace(input), "\u00A0", " ")
	token = normalizeNumericToken(token)
	if token == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func normalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(token, " ", "")
	if reThousandsDot.MatchString(compact) {
		return strings.ReplaceAll(compact, ".", "")
	}
	if reThousandsComa.MatchString(compact) {
		return strings.ReplaceAll(compact, ",", "")
	}
	if strings.Contains(compact, ",") && !strings.Contains(compact, ".") {
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}

// parseLeadingFloat parses the longest valid float prefix, so "1.234.56"
// yields 1.234 the same way a lenient number parser would.
func parseLeadingFloat(s string) (float64, bool) {
	end := 0
	dot := false
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if c == '.' && !dot {
			dot = true
			end++
			continue
		}
		break
	}
	head := strings.TrimSuffix(s[:end], ".")
	if head == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(head, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
