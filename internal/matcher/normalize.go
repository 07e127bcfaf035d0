package matcher

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reSizeGB      = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(TB|GB|MB)?`)
	reRAMGB       = regexp.MustCompile(`(?i)(\d+)\s*GB`)
	reRAMBare     = regexp.MustCompile(`^(\d+)$`)
	reRAMBefore   = regexp.MustCompile(`(?i)(\d+)\s*RAM`)
	reStorageTB   = regexp.MustCompile(`(\d+)\s*TB`)
	reStorageGB   = regexp.MustCompile(`(\d+)\s*GB`)
	reInches      = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)
	reResolution  = regexp.MustCompile(`^(\d+)\s*[x×*]\s*(\d+)$`)
	reCaseTower   = regexp.MustCompile(`TOWER|FULL|PELNA|PEŁNA|STANDARD`)
	reCaseSFF     = regexp.MustCompile(`SFF|SMALL|MALA|MAŁA|MFF|USFF`)
	reCaseMini    = regexp.MustCompile(`MINI|MICRO|COMPACT`)
	reGradeToken  = regexp.MustCompile(`\b([A-G])\b`)
	gradeOrder    = []byte{'A', 'B', 'C', 'D', 'E', 'F', 'G'}
	unboundedHigh = 999999.0
)

// NormalizeToGB reads the first number with an optional TB/GB/MB unit.
// A bare number is taken as GB.
func NormalizeToGB(value string) (float64, bool) {
	clean := strings.ToUpper(strings.TrimSpace(value))
	if clean == "" {
		return 0, false
	}
	m := reSizeGB.FindStringSubmatch(clean)
	if m == nil {
		return 0, false
	}
	num, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "TB":
		return num * 1024, true
	case "MB":
		return num / 1024, true
	default:
		return num, true
	}
}

const (
	CaseTower = "Tower"
	CaseSFF   = "SFF"
	CaseMini  = "Mini"
)

// NormalizeCaseType folds free-text case descriptions into Tower, SFF or Mini.
func NormalizeCaseType(s string) string {
	t := strings.ToUpper(strings.TrimSpace(s))
	if t == "" {
		return ""
	}
	switch {
	case reCaseTower.MatchString(t):
		return CaseTower
	case reCaseSFF.MatchString(t):
		return CaseSFF
	case reCaseMini.MatchString(t):
		return CaseMini
	default:
		return ""
	}
}

func ParseRAM(s string) (int, bool) {
	str := strings.TrimSpace(s)
	if str == "" {
		return 0, false
	}
	for _, re := range []*regexp.Regexp{reRAMGB, reRAMBare, reRAMBefore} {
		if m := re.FindStringSubmatch(str); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// ParseStorage sums TB and GB parts ("1TB + 256GB" -> 1280).
func ParseStorage(s string) (int, bool) {
	str := strings.ToUpper(s)
	gb := 0
	if m := reStorageTB.FindStringSubmatch(str); m != nil {
		n, _ := strconv.Atoi(m[1])
		gb += n * 1024
	}
	if m := reStorageGB.FindStringSubmatch(str); m != nil {
		n, _ := strconv.Atoi(m[1])
		gb += n
	}
	if gb <= 0 {
		return 0, false
	}
	return gb, true
}

// ParseSizeInches accepts `27"`, `27 cali`, `23,8` and bare numbers.
func ParseSizeInches(s string) (float64, bool) {
	str := strings.NewReplacer(`"`, "", "″", "", "'", "").Replace(strings.TrimSpace(s))
	m := reInches.FindStringSubmatch(str)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ParseResolution returns the pixel count of a WxH string.
func ParseResolution(s string) (int, bool) {
	m := reResolution.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	w, err1 := strconv.Atoi(m[1])
	h, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, false
	}
	return w * h, true
}

// GradeRank maps the leading A..G letter to 1..7, lower is better.
func GradeRank(grade string) (int, bool) {
	g := strings.ToUpper(strings.TrimSpace(grade))
	if g == "" {
		return 0, false
	}
	for i, letter := range gradeOrder {
		if g[0] == letter {
			return i + 1, true
		}
	}
	return 0, false
}

// ParseOfferGrade returns the first standalone A..G letter in the offer
// text, so words such as "Grade" or "Stan" never count as grades.
func ParseOfferGrade(text string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(text))
	if upper == "" {
		return "", false
	}
	m := reGradeToken.FindStringSubmatch(upper)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// GradeInRange is true when no bound is declared. Otherwise the offer grade
// must parse and fall between the bounds in either order.
func GradeInRange(offerGrade, from, to string) bool {
	fromRank, hasFrom := GradeRank(from)
	toRank, hasTo := GradeRank(to)
	if !hasFrom && !hasTo {
		return true
	}

	letter, ok := ParseOfferGrade(offerGrade)
	if !ok {
		return false
	}
	rank, _ := GradeRank(letter)

	lo, hi := fromRank, toRank
	switch {
	case hasFrom && hasTo:
		lo, hi = min(fromRank, toRank), max(fromRank, toRank)
	case hasFrom:
		lo, hi = fromRank, fromRank
	default:
		lo, hi = toRank, toRank
	}
	return rank >= lo && rank <= hi
}
