package matcher

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"offerwatch/internal/currency"
	"offerwatch/internal/util"
)

// Converter is implemented by currency.Service.
type Converter interface {
	Rate(ctx context.Context, code string) (float64, bool)
	ConvertToEUR(ctx context.Context, amount float64, code string) (float64, bool)
}

// DetectCurrency checks markers in a fixed order and defaults to EUR.
func DetectCurrency(price string) string {
	upper := strings.ToUpper(strings.TrimSpace(price))
	switch {
	case strings.Contains(upper, "USD") || strings.Contains(upper, "$"):
		return currency.USD
	case strings.Contains(upper, "GBP") || strings.Contains(upper, "£"):
		return currency.GBP
	case strings.Contains(upper, "EUR") || strings.Contains(upper, "€"):
		return currency.EUR
	case strings.Contains(upper, "PLN") || strings.Contains(upper, "ZŁ"):
		return currency.PLN
	default:
		return currency.EUR
	}
}

type PriceResolver struct {
	conv Converter
	log  *slog.Logger
}

func NewPriceResolver(conv Converter, log *slog.Logger) *PriceResolver {
	return &PriceResolver{conv: conv, log: log}
}

// Resolve parses a price string and converts it to EUR. When no rate can be
// fetched the unconverted value is returned.
func (p *PriceResolver) Resolve(ctx context.Context, price string) (float64, bool) {
	const opn = "matcher.PriceResolver.Resolve"

	if strings.TrimSpace(price) == "" {
		return 0, false
	}
	code := DetectCurrency(price)
	parsed, ok := util.ParsePriceNumber(price)
	if !ok {
		return 0, false
	}
	if code == currency.EUR {
		return parsed, true
	}

	converted, ok := p.conv.ConvertToEUR(ctx, parsed, code)
	if !ok {
		p.log.Warn("no exchange rate, using unconverted value",
			slog.String("op", opn), slog.String("currency", code), slog.Float64("amount", parsed))
		return parsed, true
	}
	return converted, true
}

// formatEUR renders 1234.5 as "1234,50".
func formatEUR(v float64) string {
	return strings.Replace(decimal.NewFromFloat(v).StringFixed(2), ".", ",", 1)
}

// unitPrice divides a lot price by its unit count.
func unitPrice(total float64, amount int) float64 {
	if amount <= 1 {
		return total
	}
	f, _ := decimal.NewFromFloat(total).Div(decimal.NewFromInt(int64(amount))).Float64()
	return f
}
