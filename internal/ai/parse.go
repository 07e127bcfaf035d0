package ai

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"offerwatch/internal"
	"offerwatch/internal/util"
)

// flexString accepts a JSON string, number or bool. null and the literal
// words "null"/"undefined" decode to "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(cleanValue(s))
		return nil
	}
	*f = flexString(cleanValue(string(b)))
	return nil
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "undefined", "false", "true":
		return ""
	}
	return s
}

// flexNumber accepts a number or a numeric string.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexNumber(v)
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(string(bytes.TrimSpace(b)), `"`)) {
	case "true", "yes", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

type rawAnalysis struct {
	IsOffer    flexBool   `json:"isOffer"`
	Confidence flexNumber `json:"confidence"`
	Category   flexString `json:"category"`
	Details    struct {
		ProductType flexString `json:"productType"`
		Brand       flexString `json:"brand"`
		Model       flexString `json:"model"`
		Price       flexString `json:"price"`
		Discount    flexString `json:"discount"`
		Store       flexString `json:"store"`
	} `json:"details"`
	Reasoning flexString `json:"reasoning"`
}

var (
	reTextIsOffer    = regexp.MustCompile(`(?i)(?:is.*offer|oferta).*?(?:true|tak|yes)`)
	reTextConfidence = regexp.MustCompile(`(?i)(?:confidence|pewność).*?(\d+)`)
)

// parseAnalysis reads a classification reply. A reply without usable JSON
// is scanned as prose.
func parseAnalysis(text string, log *slog.Logger) internal.OfferAnalysis {
	var raw rawAnalysis
	if _, err := decodeReply(text, &raw); err != nil {
		log.Warn("classification reply is not JSON", slog.Any("error", err))
		confidence := 50
		if m := reTextConfidence.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				confidence = clampConfidence(float64(n))
			}
		}
		return internal.OfferAnalysis{
			IsOffer:    reTextIsOffer.MatchString(text),
			Confidence: confidence,
			Reasoning:  "parsed from text reply",
		}
	}
	return internal.OfferAnalysis{
		IsOffer:    bool(raw.IsOffer),
		Confidence: clampConfidence(float64(raw.Confidence)),
		Category:   strings.ToLower(string(raw.Category)),
		Details: internal.OfferDetails{
			ProductType: string(raw.Details.ProductType),
			Brand:       string(raw.Details.Brand),
			Model:       string(raw.Details.Model),
			Price:       string(raw.Details.Price),
			Discount:    string(raw.Details.Discount),
			Store:       string(raw.Details.Store),
		},
		Reasoning: string(raw.Reasoning),
	}
}

func clampConfidence(v float64) int {
	return int(min(100, max(0, v)))
}

type rawLaptop struct {
	Model        flexString `json:"model"`
	RAM          flexString `json:"ram"`
	Storage      flexString `json:"storage"`
	Price        flexString `json:"price"`
	GraphicsCard flexString `json:"graphicsCard"`
	Amount       flexNumber `json:"amount"`
}

type rawMonitor struct {
	Model      flexString `json:"model"`
	SizeInches flexString `json:"sizeInches"`
	Resolution flexString `json:"resolution"`
	Price      flexString `json:"price"`
	Amount     flexNumber `json:"amount"`
}

type rawDesktop struct {
	Model    flexString `json:"model"`
	CaseType flexString `json:"caseType"`
	RAM      flexString `json:"ram"`
	Storage  flexString `json:"storage"`
	Price    flexString `json:"price"`
	Amount   flexNumber `json:"amount"`
}

type rawOffer[T any] struct {
	Laptops       []T        `json:"laptops"`
	Monitors      []T        `json:"monitors"`
	Desktops      []T        `json:"desktops"`
	Grade         flexString `json:"grade"`
	TotalPrice    flexString `json:"totalPrice"`
	TotalQuantity flexNumber `json:"totalQuantity"`
}

// offerPart is what one reply contributes to an offer.
type offerPart[T any] struct {
	Items         []T
	Grade         string
	TotalPrice    string
	TotalQuantity int
}

func decodeOffer[R any, T any](text string, pick func(rawOffer[R]) []R, conv func(R) T, log *slog.Logger) offerPart[T] {
	var raw rawOffer[R]
	repaired, err := decodeReply(text, &raw)
	if err != nil {
		log.Warn("extraction reply could not be decoded",
			slog.Any("error", err),
			slog.String("tail", tail(text, 200)),
		)
		return offerPart[T]{}
	}
	if repaired {
		log.Warn("extraction reply was truncated, repaired JSON")
	}
	rows := pick(raw)
	items := make([]T, 0, len(rows))
	for _, r := range rows {
		items = append(items, conv(r))
	}
	qty := int(raw.TotalQuantity)
	if qty <= 0 {
		qty = len(items)
	}
	return offerPart[T]{
		Items:         items,
		Grade:         string(raw.Grade),
		TotalPrice:    string(raw.TotalPrice),
		TotalQuantity: qty,
	}
}

func amountOf(n flexNumber) int {
	if n > 0 {
		return int(n)
	}
	return 0
}

func parseLaptops(text string, log *slog.Logger) offerPart[internal.LaptopSpec] {
	part := decodeOffer(text,
		func(r rawOffer[rawLaptop]) []rawLaptop { return r.Laptops },
		func(r rawLaptop) internal.LaptopSpec {
			return internal.LaptopSpec{
				Model:        string(r.Model),
				RAM:          string(r.RAM),
				Storage:      string(r.Storage),
				Price:        string(r.Price),
				GraphicsCard: string(r.GraphicsCard),
				Amount:       amountOf(r.Amount),
			}
		}, log)
	fillFromTotalPrice(part, func(l *internal.LaptopSpec) *string { return &l.Price })
	return part
}

func parseMonitors(text string, log *slog.Logger) offerPart[internal.MonitorSpec] {
	part := decodeOffer(text,
		func(r rawOffer[rawMonitor]) []rawMonitor { return r.Monitors },
		func(r rawMonitor) internal.MonitorSpec {
			return internal.MonitorSpec{
				Model:      string(r.Model),
				SizeInches: string(r.SizeInches),
				Resolution: string(r.Resolution),
				Price:      string(r.Price),
				Amount:     amountOf(r.Amount),
			}
		}, log)
	fillFromTotalPrice(part, func(m *internal.MonitorSpec) *string { return &m.Price })
	return part
}

func parseDesktops(text string, log *slog.Logger) offerPart[internal.DesktopSpec] {
	part := decodeOffer(text,
		func(r rawOffer[rawDesktop]) []rawDesktop { return r.Desktops },
		func(r rawDesktop) internal.DesktopSpec {
			return internal.DesktopSpec{
				Model:    string(r.Model),
				CaseType: string(r.CaseType),
				RAM:      string(r.RAM),
				Storage:  string(r.Storage),
				Price:    string(r.Price),
				Amount:   amountOf(r.Amount),
			}
		}, log)
	fillFromTotalPrice(part, func(d *internal.DesktopSpec) *string { return &d.Price })
	return part
}

// fillFromTotalPrice spreads an offer-wide total over the items that came
// back without a price.
func fillFromTotalPrice[T any](part offerPart[T], price func(*T) *string) {
	if part.TotalPrice == "" || len(part.Items) == 0 {
		return
	}
	count := part.TotalQuantity
	if count <= 0 {
		count = len(part.Items)
	}
	total, ok := util.ParsePriceNumber(part.TotalPrice)
	if !ok || total <= 0 {
		return
	}
	perUnit := decimal.NewFromFloat(total).Div(decimal.NewFromInt(int64(count)))
	unit := strings.Replace(perUnit.StringFixed(2), ".", ",", 1) + " " + totalCurrency(part.TotalPrice)
	for i := range part.Items {
		if p := price(&part.Items[i]); *p == "" {
			*p = unit
		}
	}
}

func totalCurrency(s string) string {
	upper := strings.ToUpper(s)
	switch {
	case strings.Contains(upper, "PLN"):
		return "PLN"
	case strings.Contains(upper, "USD"):
		return "USD"
	case strings.Contains(upper, "GBP"):
		return "GBP"
	default:
		return "EUR"
	}
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "..." + string(r[len(r)-n:])
}
