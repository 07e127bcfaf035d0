package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"offerwatch/internal"
)

const (
	DefaultThreshold   = 90
	ThresholdKey       = "matchThreshold"
	thresholdKeyPrefix = ThresholdKey + "."
)

// ThresholdKeyFor is the per-product-type settings key.
func ThresholdKeyFor(pt internal.ProductType) string {
	return thresholdKeyPrefix + string(pt)
}

// Aggregate weights every outcome by its unit count. Both comparisons
// against threshold are inclusive.
func Aggregate(pt internal.ProductType, outcomes []internal.MatchOutcome, threshold int) internal.BatchMatchResult {
	res := internal.BatchMatchResult{
		ProductType: pt,
		Threshold:   threshold,
		Outcomes:    outcomes,
	}
	for _, o := range outcomes {
		units := internal.Units(o.Amount)
		res.TotalUnits += units
		if o.IdentityMatched {
			res.MatchedInCriteriaUnits += units
		}
		if o.IsMatch {
			res.MatchedWithPriceUnits += units
		}
	}
	if res.TotalUnits > 0 {
		res.IdentityPct = float64(res.MatchedInCriteriaUnits) / float64(res.TotalUnits) * 100
		res.PricePct = float64(res.MatchedWithPriceUnits) / float64(res.TotalUnits) * 100
	}
	res.AllMatched = res.IdentityPct >= float64(threshold)
	res.ShouldNotify = res.PricePct >= float64(threshold) && res.MatchedWithPriceUnits > 0
	return res
}

// Store is the read side of the criteria store the matcher needs.
type Store interface {
	ListLaptopCriteria(ctx context.Context) ([]internal.LaptopCriterion, error)
	ListMonitorCriteria(ctx context.Context) ([]internal.MonitorCriterion, error)
	ListDesktopCriteria(ctx context.Context) ([]internal.DesktopCriterion, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

type Service struct {
	store            Store
	laptops          *LaptopEngine
	monitors         *MonitorEngine
	desktops         *DesktopEngine
	defaultThreshold int
	log              *slog.Logger
}

func NewService(store Store, conv Converter, defaultThreshold int, log *slog.Logger) *Service {
	prices := NewPriceResolver(conv, log)
	if defaultThreshold < 0 {
		defaultThreshold = DefaultThreshold
	}
	return &Service{
		store:            store,
		laptops:          NewLaptopEngine(prices),
		monitors:         NewMonitorEngine(prices),
		desktops:         NewDesktopEngine(prices),
		defaultThreshold: defaultThreshold,
		log:              log,
	}
}

// Threshold resolves the per-type setting, then the global one, then the
// configured default, clamped to [0, 100].
func (s *Service) Threshold(ctx context.Context, pt internal.ProductType) int {
	const opn = "matcher.Threshold"

	for _, key := range []string{ThresholdKeyFor(pt), ThresholdKey} {
		raw, ok, err := s.store.GetSetting(ctx, key)
		if err != nil {
			s.log.Warn("read threshold", slog.String("op", opn), slog.String("key", key), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		return min(100, max(0, n))
	}
	return min(100, max(0, s.defaultThreshold))
}

// MatchLaptops reads criteria and threshold once for the whole offer.
func (s *Service) MatchLaptops(ctx context.Context, offer internal.LaptopOffer) (internal.BatchMatchResult, error) {
	const opn = "matcher.MatchLaptops"

	criteria, err := s.store.ListLaptopCriteria(ctx)
	if err != nil {
		return internal.BatchMatchResult{}, fmt.Errorf("%s: list criteria: %w", opn, err)
	}
	threshold := s.Threshold(ctx, internal.ProductLaptop)
	if len(criteria) == 0 {
		s.log.Warn("no laptop criteria configured", slog.String("op", opn))
	}

	outcomes := make([]internal.MatchOutcome, 0, len(offer.Laptops))
	for _, item := range offer.Laptops {
		outcomes = append(outcomes, s.laptops.Match(ctx, item, criteria, offer.Grade))
	}
	res := Aggregate(internal.ProductLaptop, outcomes, threshold)
	s.logResult(opn, res)
	return res, nil
}

func (s *Service) MatchMonitors(ctx context.Context, offer internal.MonitorOffer) (internal.BatchMatchResult, error) {
	const opn = "matcher.MatchMonitors"

	criteria, err := s.store.ListMonitorCriteria(ctx)
	if err != nil {
		return internal.BatchMatchResult{}, fmt.Errorf("%s: list criteria: %w", opn, err)
	}
	threshold := s.Threshold(ctx, internal.ProductMonitor)

	outcomes := make([]internal.MatchOutcome, 0, len(offer.Monitors))
	for _, item := range offer.Monitors {
		outcomes = append(outcomes, s.monitors.Match(ctx, item, criteria))
	}
	res := Aggregate(internal.ProductMonitor, outcomes, threshold)
	s.logResult(opn, res)
	return res, nil
}

func (s *Service) MatchDesktops(ctx context.Context, offer internal.DesktopOffer) (internal.BatchMatchResult, error) {
	const opn = "matcher.MatchDesktops"

	criteria, err := s.store.ListDesktopCriteria(ctx)
	if err != nil {
		return internal.BatchMatchResult{}, fmt.Errorf("%s: list criteria: %w", opn, err)
	}
	threshold := s.Threshold(ctx, internal.ProductDesktop)

	outcomes := make([]internal.MatchOutcome, 0, len(offer.Desktops))
	for _, item := range offer.Desktops {
		outcomes = append(outcomes, s.desktops.Match(ctx, item, criteria))
	}
	res := Aggregate(internal.ProductDesktop, outcomes, threshold)
	s.logResult(opn, res)
	return res, nil
}

func (s *Service) logResult(opn string, res internal.BatchMatchResult) {
	s.log.Debug("batch matched",
		slog.String("op", opn),
		slog.Int("total_units", res.TotalUnits),
		slog.Int("tracked_units", res.MatchedInCriteriaUnits),
		slog.Int("priced_units", res.MatchedWithPriceUnits),
		slog.Float64("tracked_pct", res.IdentityPct),
		slog.Float64("priced_pct", res.PricePct),
		slog.Int("threshold", res.Threshold),
	)
	for _, o := range res.Outcomes {
		s.log.Debug("item outcome", slog.String("op", opn), slog.String("item", o.Item),
			slog.Bool("match", o.IsMatch), slog.String("reason", o.Reason))
	}
}
