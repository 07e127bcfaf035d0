package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerwatch/internal"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scripted replies with replies[i] (or errs[i]) to the i-th prompt and
// repeats the last entry once the script runs out.
type scripted struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (s *scripted) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	if len(s.errs) > 0 {
		if err := s.errs[min(i, len(s.errs)-1)]; err != nil {
			return "", err
		}
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	return s.replies[min(i, len(s.replies)-1)], nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestService(llm Completer, rec *sleepRecorder) *Service {
	s := NewService(llm, DefaultRetries, discard())
	s.retry.sleep = rec.sleep
	s.sleep = rec.sleep
	return s
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 8*time.Second, RetryDelay(3))
	assert.Equal(t, 16*time.Second, RetryDelay(2))
	assert.Equal(t, 30*time.Second, RetryDelay(1))
	assert.Equal(t, 30*time.Second, RetryDelay(0))
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &APIError{StatusCode: 429}, true},
		{"500", &APIError{StatusCode: 500}, true},
		{"503", &APIError{StatusCode: 503}, true},
		{"400", &APIError{StatusCode: 400, Body: "bad request"}, false},
		{"status text", &APIError{StatusCode: 502, Status: "Service Unavailable"}, true},
		{"wrapped", fmt.Errorf("call: %w", &APIError{StatusCode: 429}), true},
		{"overloaded", errors.New("The model is overloaded"), true},
		{"rate limit", errors.New("Rate limit exceeded"), true},
		{"other", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestRetrierSpendsBudgetOnTransientErrors(t *testing.T) {
	rec := &sleepRecorder{}
	r := retrier{attempts: 3, log: discard(), sleep: rec.sleep}

	calls := 0
	err := r.do(context.Background(), "test", func(context.Context) error {
		calls++
		return &APIError{StatusCode: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{8 * time.Second, 16 * time.Second, 30 * time.Second}, rec.delays)
}

func TestRetrierReturnsPermanentErrorImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	r := retrier{attempts: 3, log: discard(), sleep: rec.sleep}

	calls := 0
	err := r.do(context.Background(), "test", func(context.Context) error {
		calls++
		return &APIError{StatusCode: 400}
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestRetrierRecovers(t *testing.T) {
	rec := &sleepRecorder{}
	r := retrier{attempts: 3, log: discard(), sleep: rec.sleep}

	calls := 0
	err := r.do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("overloaded")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithRetry(ctx, discard(), 3, func(context.Context) error {
		calls++
		return &APIError{StatusCode: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExtractJSONSpan(t *testing.T) {
	span, ok := ExtractJSONSpan("Sure! ```json\n{\"a\":{\"b\":1}}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"a":{"b":1}}`, span)

	span, ok = ExtractJSONSpan(`prefix {"a":[1,2`)
	require.True(t, ok)
	assert.Equal(t, `{"a":[1,2`, span)

	_, ok = ExtractJSONSpan("no json here")
	assert.False(t, ok)
}

func TestRepairTruncatedJSON(t *testing.T) {
	cases := map[string]string{
		`{"laptops":[{"model":"X","ram":"8 GB"`: `{"laptops":[{"model":"X","ram":"8 GB"}]}`,
		`{"a":[1,2,]}`:                          `{"a":[1,2]}`,
		`{"a":"unterminated`:                    `{"a":"unterminated"}`,
		`{"a":`:                                 `{"a":null}`,
		`{"a":"x\"}", "b":[`:                    `{"a":"x\"}", "b":[]}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, RepairTruncatedJSON(in), in)
	}
}

func TestParseLaptopsRepairsTruncatedReply(t *testing.T) {
	part := parseLaptops(`Here you go: {"laptops":[{"model":"X","ram":"8 GB"`, discard())
	require.Len(t, part.Items, 1)
	assert.Equal(t, "X", part.Items[0].Model)
	assert.Equal(t, "8 GB", part.Items[0].RAM)
	assert.Equal(t, 1, part.TotalQuantity)
}

func TestParseLaptopsCutsBackDanglingKey(t *testing.T) {
	part := parseLaptops(`{"laptops":[{"model":"X"},{"model":"Y","ram"`, discard())
	require.Len(t, part.Items, 2)
	assert.Equal(t, "Y", part.Items[1].Model)
	assert.Empty(t, part.Items[1].RAM)
}

func TestParseLaptopsIsLenient(t *testing.T) {
	reply := `{"laptops":[
		{"model":"A","price":850,"amount":"3"},
		{"model":"B","price":"null","amount":-2,"graphicsCard":null},
		{"model":"C","price":"undefined","amount":0}
	],"grade":"A","totalQuantity":"7"}`
	part := parseLaptops(reply, discard())
	require.Len(t, part.Items, 3)
	assert.Equal(t, "850", part.Items[0].Price)
	assert.Equal(t, 3, part.Items[0].Amount)
	assert.Empty(t, part.Items[1].Price)
	assert.Equal(t, 0, part.Items[1].Amount)
	assert.Empty(t, part.Items[1].GraphicsCard)
	assert.Empty(t, part.Items[2].Price)
	assert.Equal(t, "A", part.Grade)
	assert.Equal(t, 7, part.TotalQuantity)
}

func TestParseLaptopsGarbageYieldsEmpty(t *testing.T) {
	part := parseLaptops("the model refused to answer", discard())
	assert.Empty(t, part.Items)
	assert.Equal(t, 0, part.TotalQuantity)
}

func TestTotalPriceBackfill(t *testing.T) {
	reply := `{"laptops":[{"model":"A"},{"model":"B","price":"500 EUR"}],"totalPrice":"2000 PLN","totalQuantity":4}`
	part := parseLaptops(reply, discard())
	require.Len(t, part.Items, 2)
	assert.Equal(t, "500,00 PLN", part.Items[0].Price)
	assert.Equal(t, "500 EUR", part.Items[1].Price)

	reply = `{"laptops":[{"model":"A"},{"model":"B"},{"model":"C"}],"totalPrice":"23 668,00 €"}`
	part = parseLaptops(reply, discard())
	assert.Equal(t, "7889,33 EUR", part.Items[2].Price)
}

func TestParseMonitorsAndDesktops(t *testing.T) {
	m := parseMonitors(`{"monitors":[{"model":null,"sizeInches":27,"resolution":"2560x1440","price":"1.373,00 €","amount":7}]}`, discard())
	require.Len(t, m.Items, 1)
	assert.Equal(t, "27", m.Items[0].SizeInches)
	assert.Empty(t, m.Items[0].Model)
	assert.Equal(t, 7, m.Items[0].Amount)
	assert.Equal(t, 1, m.TotalQuantity)

	d := parseDesktops(`{"desktops":[{"caseType":"Tower","ram":"32 GB","storage":"2 TB","price":"300 Euro"}],"totalQuantity":1}`, discard())
	require.Len(t, d.Items, 1)
	assert.Equal(t, "Tower", d.Items[0].CaseType)
	assert.Equal(t, "300 Euro", d.Items[0].Price)

	m = parseMonitors(`{"monitors":[{"sizeInches":24,"resolution":"1920x1080","amount":5}],"totalPrice":"500 EUR","totalQuantity":5}`, discard())
	require.Len(t, m.Items, 1)
	assert.Equal(t, "100,00 EUR", m.Items[0].Price)

	d = parseDesktops(`{"desktops":[{"caseType":"SFF"},{"caseType":"Tower","price":"250 EUR"}],"totalPrice":"1200 PLN","totalQuantity":4}`, discard())
	require.Len(t, d.Items, 2)
	assert.Equal(t, "300,00 PLN", d.Items[0].Price)
	assert.Equal(t, "250 EUR", d.Items[1].Price)
}

func TestParseAnalysis(t *testing.T) {
	got := parseAnalysis(`{"isOffer":"true","confidence":150,"category":"Laptop","details":{"brand":"Dell","price":null},"reasoning":"stock list"}`, discard())
	assert.True(t, got.IsOffer)
	assert.Equal(t, 100, got.Confidence)
	assert.Equal(t, "laptop", got.Category)
	assert.Equal(t, "Dell", got.Details.Brand)
	assert.Empty(t, got.Details.Price)

	got = parseAnalysis(`{"isOffer":false,"confidence":-4}`, discard())
	assert.False(t, got.IsOffer)
	assert.Equal(t, 0, got.Confidence)

	got = parseAnalysis("Is this an offer? yes. Confidence: 80", discard())
	assert.True(t, got.IsOffer)
	assert.Equal(t, 80, got.Confidence)

	got = parseAnalysis("no idea", discard())
	assert.False(t, got.IsOffer)
	assert.Equal(t, 50, got.Confidence)
}

func TestFallbackOfferAnalysis(t *testing.T) {
	got := FallbackOfferAnalysis(internal.MailMessage{
		Subject: "Oferta laptop Dell",
		From:    "shop@x.pl",
		Text:    "cena 1000 zł",
	})
	assert.True(t, got.IsOffer)
	assert.Equal(t, 85, got.Confidence)
	assert.Equal(t, "laptop", got.Category)
	assert.True(t, got.Fallback)

	got = FallbackOfferAnalysis(internal.MailMessage{Subject: "Meeting notes", From: "boss@corp.example"})
	assert.False(t, got.IsOffer)
	assert.Equal(t, 0, got.Confidence)
	assert.Empty(t, got.Category)
}

func TestFillMissingFromText(t *testing.T) {
	text := "ThinkPad T14 | i5-1135G7 | 16GB RAM | 512GB SSD NVMe | Iris Xe | CENA: 1 160,00 zł"
	laptops := []internal.LaptopSpec{{Model: "ThinkPad T14"}}
	n := FillMissingFromText(laptops, text, "")
	assert.Equal(t, 4, n)
	assert.Equal(t, "1160,00 PLN", laptops[0].Price)
	assert.Equal(t, "16 GB", laptops[0].RAM)
	assert.Equal(t, "512 GB SSD NVMe", laptops[0].Storage)
	assert.Equal(t, "Iris Xe", laptops[0].GraphicsCard)

	kept := []internal.LaptopSpec{{Model: "X", Price: "700 EUR"}}
	FillMissingFromText(kept, "", "<p>price 900 zł</p>")
	assert.Equal(t, "700 EUR", kept[0].Price)

	many := []internal.LaptopSpec{{Model: "A"}, {Model: "B"}}
	assert.Equal(t, 0, FillMissingFromText(many, text, ""))
	assert.Empty(t, many[0].Price)
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body>
		<p>Hello <b>there</b></p>
		<table><tr><td>Dell 5420</td><td>16 GB</td></tr><tr><td>HP 840</td><td>8 GB</td></tr></table>
		<script>var a = 1;</script>
	</body></html>`
	assert.Equal(t, "Hello there\nDell 5420 | 16 GB\nHP 840 | 8 GB", HTMLToText(html, 1000))
	assert.Equal(t, "Hello", HTMLToText(html, 5))
}

func TestPrepareEmailContent(t *testing.T) {
	msg := internal.MailMessage{
		From:    "seller@example.com",
		Subject: "NTB offer",
		Date:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Text:    "short",
		HTML:    "<p>a much longer html body</p>",
	}
	out := PrepareEmailContent(msg, 100, true)
	assert.Contains(t, out, "Subject: NTB offer")
	assert.Contains(t, out, "Date: 2026-03-01T10:00:00Z")
	assert.Contains(t, out, "Content:\na much longer html body")

	out = PrepareEmailContent(msg, 100, false)
	assert.Contains(t, out, "Text Content: short")
	assert.Contains(t, out, "HTML Content (cleaned): a much longer html body")

	out = PrepareEmailContent(internal.MailMessage{Subject: "empty"}, 100, true)
	assert.Contains(t, out, "(no content)")
}

func TestAnalyzeOfferFallsBackWhenModelIsDown(t *testing.T) {
	llm := &scripted{errs: []error{&APIError{StatusCode: 503}}}
	rec := &sleepRecorder{}
	s := newTestService(llm, rec)

	got := s.AnalyzeOffer(context.Background(), internal.MailMessage{Subject: "laptop oferta"})
	assert.True(t, got.Fallback)
	assert.True(t, got.IsOffer)
	assert.Len(t, llm.prompts, 4)
	assert.Len(t, rec.delays, 3)
}

func TestAnalyzeOfferSkipsFallbackWhenCancelled(t *testing.T) {
	llm := &scripted{errs: []error{context.Canceled}}
	s := newTestService(llm, &sleepRecorder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := s.AnalyzeOffer(ctx, internal.MailMessage{Subject: "laptop oferta"})
	assert.False(t, got.Fallback)
	assert.False(t, got.IsOffer)
}

func TestAnalyzeOfferUsesModelReply(t *testing.T) {
	llm := &scripted{replies: []string{`{"isOffer":true,"confidence":92,"category":"monitor"}`}}
	s := newTestService(llm, &sleepRecorder{})

	got := s.AnalyzeOffer(context.Background(), internal.MailMessage{Subject: "Monitors 27\"", Text: "7x Dell P2719H"})
	assert.False(t, got.Fallback)
	assert.Equal(t, 92, got.Confidence)
	assert.Equal(t, "monitor", got.Category)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "7x Dell P2719H")
}

func TestParseEmailContent(t *testing.T) {
	llm := &scripted{replies: []string{`{"laptops":[{"model":"Dell Latitude 5320","ram":"16 GB"}],"grade":"A"}`}}
	s := newTestService(llm, &sleepRecorder{})

	offer := s.ParseEmailContent(context.Background(), internal.MailMessage{
		Text: "DELL Latitude 5320 i5-1145G7 16GB 512GB SSD 820,00 zł",
	})
	require.Len(t, offer.Laptops, 1)
	assert.Equal(t, "820,00 PLN", offer.Laptops[0].Price)
	assert.Equal(t, "A", offer.Grade)

	failing := newTestService(&scripted{errs: []error{errors.New("permission denied")}}, &sleepRecorder{})
	offer = failing.ParseEmailContent(context.Background(), internal.MailMessage{Text: "x"})
	assert.Empty(t, offer.Laptops)
}

func sheet(dataRows int) [][]string {
	rows := [][]string{{"Model", "RAM", "Price"}}
	for i := 1; i <= dataRows; i++ {
		rows = append(rows, []string{fmt.Sprintf("r%02d", i), "16 GB", "100"})
	}
	return rows
}

func TestParseSpreadsheetInChunks(t *testing.T) {
	llm := &scripted{replies: []string{
		`{"laptops":[{"model":"A","price":"100"}],"grade":null,"totalPrice":null}`,
		`{"laptops":[{"model":"B","price":"100"}],"grade":"A","totalPrice":"900 EUR"}`,
		`{"laptops":[{"model":"C","price":"100"}],"grade":"B","totalPrice":"1 EUR"}`,
	}}
	rec := &sleepRecorder{}
	s := newTestService(llm, rec)

	offer, err := s.ParseSpreadsheet(context.Background(), sheet(40))
	require.NoError(t, err)
	require.Len(t, offer.Laptops, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{offer.Laptops[0].Model, offer.Laptops[1].Model, offer.Laptops[2].Model})
	assert.Equal(t, "A", offer.Grade)
	assert.Equal(t, "900 EUR", offer.TotalPrice)
	assert.Equal(t, 3, offer.TotalQuantity)

	require.Len(t, llm.prompts, 3)
	for _, p := range llm.prompts {
		assert.Contains(t, p, `"Model"`)
	}
	assert.Contains(t, llm.prompts[0], "r18")
	assert.NotContains(t, llm.prompts[0], "r19")
	assert.Contains(t, llm.prompts[1], "r19")
	assert.Contains(t, llm.prompts[2], "r40")
	assert.Equal(t, []time.Duration{chunkDelay, chunkDelay}, rec.delays)
}

func TestParseSpreadsheetSmallSheetIsOnePrompt(t *testing.T) {
	llm := &scripted{replies: []string{`{"laptops":[{"model":"A"},{"model":"B"}],"totalQuantity":2}`}}
	s := newTestService(llm, &sleepRecorder{})

	offer, err := s.ParseSpreadsheet(context.Background(), sheet(5))
	require.NoError(t, err)
	assert.Len(t, offer.Laptops, 2)
	assert.Len(t, llm.prompts, 1)
}

func TestParseSpreadsheetPropagatesModelFailure(t *testing.T) {
	llm := &scripted{errs: []error{&APIError{StatusCode: 400}}}
	s := newTestService(llm, &sleepRecorder{})

	_, err := s.ParseSpreadsheet(context.Background(), sheet(3))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
}

func TestClientComplete(t *testing.T) {
	var gotPath, gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"ok\":"},{"text":"true}"}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient("secret", "gemini-test", srv.URL, nil)
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Contains(t, gotBody, `"maxOutputTokens":8192`)
	assert.Contains(t, gotBody, `"text":"hello"`)
}

func TestClientErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "model overloaded", status)
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := NewClient("k", "", srv.URL, nil)
	_, err := c.Complete(context.Background(), "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.True(t, IsTransient(err))

	status = http.StatusOK
	_, err = c.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestRateLimiterSpacesCalls(t *testing.T) {
	l := NewRateLimiter(50)
	start := time.Now()
	for range 3 {
		require.NoError(t, l.WaitTurn(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	l := NewRateLimiter(1)
	require.NoError(t, l.WaitTurn(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.WaitTurn(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPromptsCarryInput(t *testing.T) {
	rows := [][]string{{"Model", "Qty"}, {"Dell 7430", "10"}}
	for _, p := range []string{laptopRowsPrompt(rows), monitorRowsPrompt(rows), desktopRowsPrompt(rows)} {
		assert.Contains(t, p, `"Dell 7430"`)
		assert.False(t, strings.Contains(p, "%!"), "format verb leaked")
	}
	assert.Contains(t, laptopEmailPrompt("BODY"), "BODY")
	assert.Contains(t, analysisPrompt("BODY"), "BODY")
}
