package matcher

import (
	"context"
	"strings"

	"offerwatch/internal"
)

type DesktopEngine struct {
	prices *PriceResolver
}

func NewDesktopEngine(prices *PriceResolver) *DesktopEngine {
	return &DesktopEngine{prices: prices}
}

func (e *DesktopEngine) Match(ctx context.Context, item internal.DesktopSpec, criteria []internal.DesktopCriterion) internal.MatchOutcome {
	out := internal.MatchOutcome{
		ProductType: internal.ProductDesktop,
		Item:        desktopLabel(item),
		Amount:      internal.Units(item.Amount),
	}

	caseType := NormalizeCaseType(item.CaseType)
	ram, hasRAM := ParseRAM(item.RAM)
	storage, hasStorage := ParseStorage(item.Storage)

	var watched *internal.DesktopCriterion
	for i := range criteria {
		c := criteria[i]
		if caseType == "" || NormalizeCaseType(c.CaseType) != caseType {
			continue
		}
		if hasRAM && !intInRange(ram, c.RAMFrom, c.RAMTo, ParseRAM) {
			continue
		}
		if hasStorage && !intInRange(storage, c.StorageFrom, c.StorageTo, ParseStorage) {
			continue
		}
		watched = &criteria[i]
		break
	}
	if watched == nil {
		out.Reason = reasonNotTracked + " (case type/RAM/storage)"
		return out
	}
	out.CriterionID = watched.ID
	out.IdentityMatched = true

	return singlePriceOutcome(ctx, e.prices, out, item.Price, watched.MaxPrice)
}

// intInRange checks inclusive bounds; a bound that does not parse is open.
func intInRange(v int, from, to string, parse func(string) (int, bool)) bool {
	if lo, ok := parse(from); ok && v < lo {
		return false
	}
	if hi, ok := parse(to); ok && v > hi {
		return false
	}
	return true
}

func desktopLabel(item internal.DesktopSpec) string {
	parts := []string{orNone(item.Model)}
	for _, p := range []string{item.CaseType, item.RAM, item.Storage} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " / ")
}
