package matcher

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"offerwatch/internal/util"
)

var reOptionSeparators = regexp.MustCompile(`[,\n;]+`)

// ModelMatches compares an offered model against a watched one, ignoring
// case and extra whitespace. Every watched token must be found inside some
// offered token when neither string contains the other.
func ModelMatches(offered, watched string) bool {
	itemTokens := util.Tokenize(offered)
	wantTokens := util.Tokenize(watched)
	item := strings.Join(itemTokens, " ")
	want := strings.Join(wantTokens, " ")
	if item == "" || want == "" {
		return false
	}
	if item == want || strings.Contains(item, want) || strings.Contains(want, item) {
		return true
	}

	for _, token := range wantTokens {
		found := false
		for _, it := range itemTokens {
			if strings.Contains(it, token) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// GraphicsCardMatches reports whether the offered card satisfies any of the
// comma, semicolon or newline separated options. An empty requirement
// accepts anything.
func GraphicsCardMatches(offered, required string) bool {
	if strings.TrimSpace(required) == "" {
		return true
	}
	if strings.TrimSpace(offered) == "" {
		return false
	}

	options := make([]string, 0)
	for _, opt := range reOptionSeparators.Split(required, -1) {
		if opt = strings.TrimSpace(opt); opt != "" {
			options = append(options, opt)
		}
	}
	if len(options) == 0 {
		return true
	}

	for _, opt := range options {
		if optionMatches(offered, opt) {
			return true
		}
	}
	return false
}

func optionMatches(offered, option string) bool {
	card := strings.ToLower(strings.TrimSpace(offered))
	want := strings.ToLower(strings.TrimSpace(option))

	if card == want || strings.Contains(card, want) || strings.Contains(want, card) {
		return true
	}

	for _, word := range strings.Fields(want) {
		if len([]rune(word)) <= 2 {
			continue
		}
		if !wordMatchesWithTypo(card, word) {
			return false
		}
	}
	return true
}

// wordMatchesWithTypo looks for word in text allowing one edit. Windows of
// the word's length cover substitutions; one shorter and one longer cover a
// dropped or an extra character for words of four or more runes.
func wordMatchesWithTypo(text, word string) bool {
	if strings.Contains(text, word) {
		return true
	}
	w := []rune(word)
	if len(w) < 3 || len(w) > 12 {
		return false
	}

	sizes := []int{len(w)}
	if len(w) >= 4 {
		sizes = append(sizes, len(w)-1, len(w)+1)
	}

	t := []rune(text)
	for _, size := range sizes {
		for i := 0; i+size <= len(t); i++ {
			if levenshtein.ComputeDistance(string(t[i:i+size]), word) <= 1 {
				return true
			}
		}
	}
	return false
}
