package pipeline

import (
	"strings"

	"offerwatch/internal"
)

var (
	laptopTags  = []string{"laptop", "laptopy", "notebook", "notebooks", "laptops"}
	monitorTags = []string{"monitor", "monitory", "monitors", "display", "displays"}
	desktopTags = []string{"desktop", "desktops", "pc", "komputer", "komputery", "computer", "computers"}
	otherTags   = []string{"accessories", "akcesoria", "components", "komponenty", "other", "inne"}
)

// RouteProductType picks the engine for a classified offer. Category wins
// over the product-type hint. Offers that name neither a known product nor
// a known non-product default to laptops.
func RouteProductType(a internal.OfferAnalysis) (internal.ProductType, bool) {
	category := strings.ToLower(strings.TrimSpace(a.Category))
	hint := strings.ToLower(strings.TrimSpace(a.Details.ProductType))

	for _, v := range []string{category, hint} {
		if v == "" {
			continue
		}
		switch {
		case oneOf(v, laptopTags):
			return internal.ProductLaptop, true
		case oneOf(v, monitorTags):
			return internal.ProductMonitor, true
		case oneOf(v, desktopTags):
			return internal.ProductDesktop, true
		}
	}
	if oneOf(category, otherTags) || containsAny(hint, otherTags) {
		return "", false
	}
	if containsAny(hint, monitorTags) {
		return internal.ProductMonitor, true
	}
	return internal.ProductLaptop, true
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsAny(v string, set []string) bool {
	for _, s := range set {
		if strings.Contains(v, s) {
			return true
		}
	}
	return false
}
