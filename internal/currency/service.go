// Package currency converts offer prices to EUR using NBP mid rates.
//
// NBP quotes every currency against PLN, so a non-PLN rate is the cross
// rate mid(code) / mid(EUR). Rates are cached per code for the configured
// TTL; a lookup that fails is reported as unavailable, never as zero.
package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	EUR = "EUR"
	PLN = "PLN"
	USD = "USD"
	GBP = "GBP"
)

type nbpResponse struct {
	Table    string `json:"table"`
	Currency string `json:"currency"`
	Code     string `json:"code"`
	Rates    []struct {
		No            string  `json:"no"`
		EffectiveDate string  `json:"effectiveDate"`
		Mid           float64 `json:"mid"`
	} `json:"rates"`
}

type Service struct {
	baseURL    string
	httpClient *http.Client
	cache      *Cache
	log        *slog.Logger
	now        func() time.Time
}

func NewService(baseURL string, cache *Cache, log *slog.Logger) *Service {
	if baseURL == "" {
		baseURL = "https://api.nbp.pl/api"
	}
	return &Service{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
		log:        log,
		now:        time.Now,
	}
}

// Rate returns how many EUR one unit of code is worth.
func (s *Service) Rate(ctx context.Context, code string) (float64, bool) {
	const opn = "currency.Rate"

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == EUR {
		return 1, true
	}
	if v, ok := s.cache.Get(code, s.now()); ok {
		return v, true
	}

	eurMid, ok := s.mid(ctx, EUR)
	if !ok || eurMid <= 0 {
		s.log.Warn("eur rate unavailable", slog.String("op", opn), slog.String("code", code))
		return 0, false
	}

	var rate float64
	if code == PLN {
		rate = 1 / eurMid
	} else {
		mid, ok := s.mid(ctx, code)
		if !ok {
			s.log.Warn("rate unavailable", slog.String("op", opn), slog.String("code", code))
			return 0, false
		}
		rate = mid / eurMid
	}

	s.cache.Set(code, rate, s.now())
	return rate, true
}

// ConvertToEUR reports false for a zero or NaN amount and when no rate is available.
func (s *Service) ConvertToEUR(ctx context.Context, amount float64, code string) (float64, bool) {
	if amount == 0 || math.IsNaN(amount) {
		return 0, false
	}
	rate, ok := s.Rate(ctx, code)
	if !ok {
		return 0, false
	}
	return amount * rate, true
}

func (s *Service) mid(ctx context.Context, code string) (float64, bool) {
	const opn = "currency.mid"
	log := s.log.With(slog.String("op", opn), slog.String("code", code))

	url := fmt.Sprintf("%s/exchangerates/rates/a/%s/?format=json", s.baseURL, strings.ToLower(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Error("build request", slog.Any("error", err))
		return 0, false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn("nbp request failed", slog.Any("error", err))
		return 0, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("read nbp response", slog.Any("error", err))
		return 0, false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("nbp status", slog.Int("status", resp.StatusCode))
		return 0, false
	}

	var payload nbpResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("decode nbp response", slog.Any("error", err))
		return 0, false
	}
	if len(payload.Rates) == 0 || payload.Rates[0].Mid <= 0 {
		return 0, false
	}
	return payload.Rates[0].Mid, true
}
