package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerwatch/internal"
	"offerwatch/internal/logging"
)

type captured struct {
	header http.Header
	body   string
	path   string
}

type ntfyServer struct {
	mu       sync.Mutex
	failures int
	requests []captured
}

func (s *ntfyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	s.requests = append(s.requests, captured{header: r.Header.Clone(), body: string(body), path: r.URL.Path})
	if s.failures > 0 {
		s.failures--
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *ntfyServer) got() []captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]captured(nil), s.requests...)
}

func newTestClient(t *testing.T, srv *ntfyServer, token string) (*Client, *[]time.Duration) {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	c := NewClient(Options{Server: ts.URL + "/", Topic: "offers", Token: token, Enabled: true}, logging.Discard())
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func TestSendHeaders(t *testing.T) {
	srv := &ntfyServer{}
	c, _ := newTestClient(t, srv, "tk_secret")

	ok := c.Send(context.Background(), Message{Title: "Łódź: oferta zażółć", Body: "treść ✓", Tags: []string{"laptop", "gęś"}})
	require.True(t, ok)
	require.Len(t, srv.got(), 1)

	req := srv.got()[0]
	assert.Equal(t, "/offers", req.path)
	assert.Equal(t, "Lodz: oferta zazolc", req.header.Get("X-Title"))
	assert.Equal(t, "high", req.header.Get("X-Priority"))
	assert.Equal(t, "laptop,ges", req.header.Get("X-Tags"))
	assert.Equal(t, "Bearer tk_secret", req.header.Get("Authorization"))
	assert.Equal(t, "text/plain; charset=utf-8", req.header.Get("Content-Type"))
	assert.Equal(t, "treść ✓", req.body)
}

func TestSendRetriesWithDoublingDelay(t *testing.T) {
	srv := &ntfyServer{failures: 2}
	c, delays := newTestClient(t, srv, "")

	require.True(t, c.Send(context.Background(), Message{Title: "x"}))
	assert.Len(t, srv.got(), 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
	assert.Empty(t, srv.got()[0].header.Get("Authorization"))
}

func TestSendGivesUpAfterRetries(t *testing.T) {
	srv := &ntfyServer{failures: 10}
	c, delays := newTestClient(t, srv, "")

	assert.False(t, c.Send(context.Background(), Message{Title: "x"}))
	assert.Len(t, srv.got(), 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)
}

func TestDisabledClientIsNoop(t *testing.T) {
	srv := &ntfyServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	c := NewClient(Options{Server: ts.URL, Topic: "offers", Enabled: false}, logging.Discard())

	assert.False(t, c.Send(context.Background(), Message{Title: "x"}))
	assert.Empty(t, srv.got())
}

func TestNotifyMatchAndRejected(t *testing.T) {
	res := internal.BatchMatchResult{
		ProductType:           internal.ProductLaptop,
		TotalUnits:            3,
		MatchedWithPriceUnits: 2,
		Threshold:             60,
		Outcomes: []internal.MatchOutcome{
			{Item: "Dell Latitude 5420", IdentityMatched: true, IsMatch: true, AllowedPrice: 300, ActualUnitPrice: 250, Amount: 2},
			{Item: "HP 840 G6", IdentityMatched: true, Reason: "price too high: 410.00 EUR > max 350.00 EUR"},
		},
	}

	srv := &ntfyServer{}
	c, _ := newTestClient(t, srv, "")
	require.True(t, c.NotifyMatch(context.Background(), "Stock list", res))
	require.True(t, c.NotifyRejected(context.Background(), "Stock list", res))
	require.Len(t, srv.got(), 2)

	match := srv.got()[0]
	assert.Equal(t, "Found 1 laptop(s) in offer", match.header.Get("X-Title"))
	assert.Equal(t, "laptop,offer,match", match.header.Get("X-Tags"))
	assert.Contains(t, match.body, "1. Dell Latitude 5420")
	assert.Contains(t, match.body, "250.00 EUR/pc (max 300.00 EUR)")
	assert.Contains(t, match.body, "Quantity: 2")
	assert.Contains(t, match.body, "--- Rejected (1) ---")

	rejected := srv.got()[1]
	assert.Equal(t, "default", rejected.header.Get("X-Priority"))
	assert.Contains(t, rejected.body, "Reason: price too high")
	assert.NotContains(t, rejected.body, "Dell Latitude 5420")
}

func TestNotifySkipsWhenNothingToSay(t *testing.T) {
	srv := &ntfyServer{}
	c, _ := newTestClient(t, srv, "")
	res := internal.BatchMatchResult{Outcomes: []internal.MatchOutcome{{Item: "Lenovo T480", Reason: "not tracked"}}}

	assert.False(t, c.NotifyMatch(context.Background(), "s", res))
	assert.False(t, c.NotifyRejected(context.Background(), "s", res))
	assert.Empty(t, srv.got())
}

func TestHeaderSafe(t *testing.T) {
	assert.Equal(t, "Zolta lodz", HeaderSafe("Żółta łódź"))
	assert.Equal(t, "plain", HeaderSafe("plain"))
}
