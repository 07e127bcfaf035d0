package matcher

import (
	"context"
	"fmt"
	"math"
	"strings"

	"offerwatch/internal"
)

const reasonNotTracked = "not tracked"

type LaptopEngine struct {
	prices *PriceResolver
}

func NewLaptopEngine(prices *PriceResolver) *LaptopEngine {
	return &LaptopEngine{prices: prices}
}

// Match evaluates one laptop against the first criterion whose model fits.
// offerGrade is the grade stated for the whole offer.
func (e *LaptopEngine) Match(ctx context.Context, item internal.LaptopSpec, criteria []internal.LaptopCriterion, offerGrade string) internal.MatchOutcome {
	out := internal.MatchOutcome{
		ProductType: internal.ProductLaptop,
		Item:        laptopLabel(item),
		Amount:      internal.Units(item.Amount),
	}

	var watched *internal.LaptopCriterion
	for i := range criteria {
		if ModelMatches(item.Model, criteria[i].Model) {
			watched = &criteria[i]
			break
		}
	}
	if watched == nil {
		out.Reason = reasonNotTracked
		return out
	}
	out.CriterionID = watched.ID
	out.IdentityMatched = true

	allowed, reason := e.maxAllowedPrice(ctx, item, *watched, offerGrade)
	if allowed == 0 {
		out.Reason = reason
		return out
	}
	out.AllowedPrice = allowed

	total, ok := e.prices.Resolve(ctx, item.Price)
	if !ok || total <= 0 {
		out.Reason = "no price in offer"
		return out
	}
	out.ActualUnitPrice = unitPrice(total, out.Amount)
	out.IsMatch = out.ActualUnitPrice <= allowed
	out.Reason = priceReason(reason, allowed, out.ActualUnitPrice, total, out.Amount, out.IsMatch)
	return out
}

// maxAllowedPrice runs the disqualifiers in order and interpolates the price
// band. A zero price means the item was disqualified and reason says why.
func (e *LaptopEngine) maxAllowedPrice(ctx context.Context, item internal.LaptopSpec, w internal.LaptopCriterion, offerGrade string) (float64, string) {
	ram, hasRAM := NormalizeToGB(item.RAM)
	storage, hasStorage := NormalizeToGB(item.Storage)
	if !hasRAM || !hasStorage {
		return 0, "missing RAM or storage in offer"
	}

	ramFrom := boundOr(w.RAMFrom, 0)
	ramTo := boundOr(w.RAMTo, unboundedHigh)
	storageFrom := boundOr(w.StorageFrom, 0)
	storageTo := boundOr(w.StorageTo, unboundedHigh)

	switch {
	case ram < ramFrom:
		return 0, fmt.Sprintf("RAM %s below minimum (%s)", item.RAM, w.RAMFrom)
	case ram > ramTo:
		return 0, fmt.Sprintf("RAM %s above maximum (%s)", item.RAM, w.RAMTo)
	case storage < storageFrom:
		return 0, fmt.Sprintf("storage %s below minimum (%s)", item.Storage, w.StorageFrom)
	case storage > storageTo:
		return 0, fmt.Sprintf("storage %s above maximum (%s)", item.Storage, w.StorageTo)
	}

	if !GraphicsCardMatches(item.GraphicsCard, w.GraphicsCard) {
		label := "the required card"
		if strings.ContainsAny(w.GraphicsCard, ",;\n") {
			label = "any of the listed cards"
		}
		return 0, fmt.Sprintf("graphics card %q does not match %s (%s)", orNone(item.GraphicsCard), label, w.GraphicsCard)
	}

	if !GradeInRange(offerGrade, w.GradeFrom, w.GradeTo) {
		return 0, fmt.Sprintf("offer grade %q outside required range (%s)", orNone(offerGrade), gradeRangeLabel(w.GradeFrom, w.GradeTo))
	}

	worst, okWorst := e.prices.Resolve(ctx, orZero(w.MaxPriceWorst))
	best, okBest := e.prices.Resolve(ctx, orZero(w.MaxPriceBest))
	if !okWorst || !okBest {
		return 0, "no max prices configured for this criterion"
	}

	ramFactor := position(ram, ramFrom, ramTo)
	storageFactor := position(storage, storageFrom, storageTo)
	avg := (ramFactor + storageFactor) / 2
	allowed := math.Round(worst + (best-worst)*avg)
	if allowed <= 0 {
		return 0, "no max prices configured for this criterion"
	}

	reason := fmt.Sprintf("RAM %s (%.0f%%), storage %s (%.0f%%), average %.0f%%",
		item.RAM, ramFactor*100, item.Storage, storageFactor*100, avg*100)
	return allowed, reason
}

// position is the normalized place of v in [from, to], 0.5 for an empty range.
func position(v, from, to float64) float64 {
	width := to - from
	if width <= 0 {
		return 0.5
	}
	return (v - from) / width
}

func boundOr(s string, fallback float64) float64 {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	v, ok := NormalizeToGB(s)
	if !ok {
		return fallback
	}
	return v
}

func priceReason(prefix string, allowed, unit, total float64, amount int, isMatch bool) string {
	var b strings.Builder
	if isMatch {
		b.WriteString("match")
	} else {
		b.WriteString("too expensive")
	}
	if prefix != "" {
		b.WriteString(": ")
		b.WriteString(prefix)
	}
	fmt.Fprintf(&b, " -> max %s €, unit price %s €", formatEUR(allowed), formatEUR(unit))
	if amount > 1 {
		fmt.Fprintf(&b, " (total %s € for %d pcs)", formatEUR(total), amount)
	}
	return b.String()
}

func gradeRangeLabel(from, to string) string {
	switch {
	case from != "" && to != "":
		return fmt.Sprintf("grade %s-%s", from, to)
	case from != "":
		return "grade " + from
	default:
		return "grade " + to
	}
}

func laptopLabel(item internal.LaptopSpec) string {
	parts := []string{orNone(item.Model)}
	if item.RAM != "" {
		parts = append(parts, item.RAM)
	}
	if item.Storage != "" {
		parts = append(parts, item.Storage)
	}
	return strings.Join(parts, " / ")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}

func orZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}
