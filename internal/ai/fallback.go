package ai

import (
	"fmt"
	"regexp"
	"strings"

	"offerwatch/internal"
	"offerwatch/internal/util"
)

var hardwareKeywords = []string{
	"laptop", "notebook", "ultrabook", "macbook", "thinkpad", "dell", "hp",
	"lenovo", "asus", "acer", "msi", "komputer", "pc", "desktop", "workstation",
}

var commerceKeywords = []string{
	"promocja", "rabat", "okazja", "wyprzedaż", "oferta", "cena", "zł", "pln",
	"euro", "taniej", "oszczędź", "kup", "zamów", "sklep", "allegro", "ceneo",
}

// FallbackOfferAnalysis scores keyword hits when the model is unavailable.
func FallbackOfferAnalysis(msg internal.MailMessage) internal.OfferAnalysis {
	text := strings.ToLower(msg.Subject + " " + msg.From + " " + msg.Text)

	hw := countHits(text, hardwareKeywords)
	commerce := countHits(text, commerceKeywords)

	res := internal.OfferAnalysis{
		IsOffer:    hw > 0 && commerce > 0,
		Confidence: min(hw*20+commerce*15, 100),
		Reasoning:  fmt.Sprintf("keyword fallback: hardware %d, commerce %d", hw, commerce),
		Fallback:   true,
	}
	if hw > 0 {
		res.Category = string(internal.ProductLaptop)
	}
	return res
}

func countHits(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

var (
	rePLNNet     = regexp.MustCompile(`(?i)(\d[\d ]*(?:,\d{1,2})?)\s*zł\s*netto`)
	rePLNAny     = regexp.MustCompile(`(?i)(\d[\d ]*(?:,\d{1,2})?)\s*(?:zł|pln)`)
	reEURAny     = regexp.MustCompile(`(?i)(\d[\d .,]*)\s*(?:€|eur)`)
	reRAMHints   = []*regexp.Regexp{regexp.MustCompile(`(?i)(\d+)\s*GB\s*RAM`), regexp.MustCompile(`(?i)\|\s*(\d+)GB\s*\|`), regexp.MustCompile(`(\d+)\s*GB\s*\|`)}
	reNVMe       = regexp.MustCompile(`(?i)(\d+)\s*GB\s*SSD\s*NVMe`)
	reTB         = regexp.MustCompile(`(?i)(\d+)\s*TB`)
	reGBDisk     = regexp.MustCompile(`(?i)(\d+)\s*GB\s*(?:SSD|NVMe)`)
	reGPUInText  = regexp.MustCompile(`(?i)(intel\s+uhd|iris\s*xe|nvidia\s+(?:geforce\s+)?[a-z]*\s?\d{3,4}\w*|amd\s+radeon\s+\w+|uhd\s+graphics\s*\d*)`)
	reHTMLTagsRe = regexp.MustCompile(`<[^>]*>`)
)

// FillMissingFromText completes a single extracted laptop with values
// found in the raw mail text. Offers listing several laptops are left
// alone since one text-wide value cannot be attributed to a line.
func FillMissingFromText(laptops []internal.LaptopSpec, text, html string) int {
	if len(laptops) != 1 {
		return 0
	}
	raw := util.NormalizeSpaces(text + " " + reHTMLTagsRe.ReplaceAllString(html, " "))
	if raw == "" {
		return 0
	}

	l := &laptops[0]
	filled := 0
	set := func(field *string, value string) {
		if *field == "" && value != "" {
			*field = value
			filled++
		}
	}
	set(&l.Price, priceFromText(raw))
	set(&l.RAM, ramFromText(raw))
	set(&l.Storage, storageFromText(raw))
	if m := reGPUInText.FindStringSubmatch(raw); m != nil {
		set(&l.GraphicsCard, strings.TrimSpace(m[1]))
	}
	return filled
}

func priceFromText(text string) string {
	for _, re := range []*regexp.Regexp{rePLNNet, rePLNAny} {
		if m := re.FindStringSubmatch(text); m != nil {
			n := strings.ReplaceAll(m[1], " ", "")
			if !strings.Contains(n, ",") {
				n += ",00"
			}
			return n + " PLN"
		}
	}
	if m := reEURAny.FindStringSubmatch(text); m != nil {
		n := strings.TrimRight(strings.ReplaceAll(m[1], " ", ""), ".,")
		if n != "" {
			return n + " EUR"
		}
	}
	return ""
}

func ramFromText(text string) string {
	for _, re := range reRAMHints {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1] + " GB"
		}
	}
	return ""
}

func storageFromText(text string) string {
	if m := reNVMe.FindStringSubmatch(text); m != nil {
		return m[1] + " GB SSD NVMe"
	}
	if m := reTB.FindStringSubmatch(text); m != nil {
		return m[1] + " TB"
	}
	if m := reGBDisk.FindStringSubmatch(text); m != nil {
		return m[1] + " GB"
	}
	return ""
}
