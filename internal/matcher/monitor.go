package matcher

import (
	"context"
	"strings"

	"offerwatch/internal"
)

type MonitorEngine struct {
	prices *PriceResolver
}

func NewMonitorEngine(prices *PriceResolver) *MonitorEngine {
	return &MonitorEngine{prices: prices}
}

func (e *MonitorEngine) Match(ctx context.Context, item internal.MonitorSpec, criteria []internal.MonitorCriterion) internal.MatchOutcome {
	out := internal.MatchOutcome{
		ProductType: internal.ProductMonitor,
		Item:        monitorLabel(item),
		Amount:      internal.Units(item.Amount),
	}

	size, hasSize := ParseSizeInches(item.SizeInches)
	pixels, hasPixels := ParseResolution(item.Resolution)

	var watched *internal.MonitorCriterion
	for i := range criteria {
		if monitorIdentity(criteria[i], size, hasSize, pixels, hasPixels) {
			watched = &criteria[i]
			break
		}
	}
	if watched == nil {
		out.Reason = reasonNotTracked + " (size/resolution)"
		return out
	}
	out.CriterionID = watched.ID
	out.IdentityMatched = true

	return singlePriceOutcome(ctx, e.prices, out, item.Price, watched.MaxPrice)
}

func monitorIdentity(c internal.MonitorCriterion, size float64, hasSize bool, pixels int, hasPixels bool) bool {
	if !hasSize {
		return false
	}
	if c.SizeInchesMin != nil && size < *c.SizeInchesMin {
		return false
	}
	if c.SizeInchesMax != nil && size > *c.SizeInchesMax {
		return false
	}

	minPx, hasMin := ParseResolution(c.ResolutionMin)
	maxPx, hasMax := ParseResolution(c.ResolutionMax)
	if !hasMin && !hasMax {
		return true
	}
	if !hasPixels {
		return false
	}
	if hasMin && pixels < minPx {
		return false
	}
	if hasMax && pixels > maxPx {
		return false
	}
	return true
}

// singlePriceOutcome finishes an identity-matched outcome against a single
// max price.
func singlePriceOutcome(ctx context.Context, prices *PriceResolver, out internal.MatchOutcome, offerPrice, maxPrice string) internal.MatchOutcome {
	allowed, _ := prices.Resolve(ctx, maxPrice)
	if allowed <= 0 {
		out.Reason = "no max price configured for this criterion"
		return out
	}
	out.AllowedPrice = allowed

	total, ok := prices.Resolve(ctx, offerPrice)
	if !ok || total <= 0 {
		out.Reason = "no price in offer"
		return out
	}
	out.ActualUnitPrice = unitPrice(total, out.Amount)
	out.IsMatch = out.ActualUnitPrice <= allowed
	out.Reason = priceReason("", allowed, out.ActualUnitPrice, total, out.Amount, out.IsMatch)
	return out
}

func monitorLabel(item internal.MonitorSpec) string {
	parts := []string{orNone(item.Model)}
	if item.SizeInches != "" {
		parts = append(parts, item.SizeInches)
	}
	if item.Resolution != "" {
		parts = append(parts, item.Resolution)
	}
	return strings.Join(parts, " / ")
}
