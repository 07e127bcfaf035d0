// Package notify pushes offer alerts to an ntfy topic.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"offerwatch/internal"
)

const (
	maxRetries     = 3
	baseRetryDelay = time.Second
)

type Options struct {
	Server  string
	Topic   string
	Token   string
	Enabled bool
}

type Message struct {
	Title    string
	Body     string
	Priority string
	Tags     []string
}

type Client struct {
	opts       Options
	httpClient *http.Client
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options, log *slog.Logger) *Client {
	opts.Server = strings.TrimRight(opts.Server, "/")
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
		sleep:      sleepCtx,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.opts.Enabled && c.opts.Topic != ""
}

// Send posts msg, retrying failed attempts with a doubling delay. It
// reports whether the server accepted the message.
func (c *Client) Send(ctx context.Context, msg Message) bool {
	const opn = "notify.Send"
	log := c.log.With(slog.String("op", opn), slog.String("topic", c.opts.Topic))

	if !c.Enabled() {
		log.Debug("notifications disabled")
		return false
	}

	for attempt := 0; ; attempt++ {
		err := c.post(ctx, msg)
		if err == nil {
			log.Info("notification sent", slog.String("title", msg.Title))
			return true
		}
		if attempt >= maxRetries {
			log.Error("notification failed", slog.Int("attempts", attempt+1), slog.Any("error", err))
			return false
		}
		delay := baseRetryDelay << attempt
		log.Warn("notification attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_in", delay),
			slog.Any("error", err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return false
		}
	}
}

func (c *Client) post(ctx context.Context, msg Message) error {
	url := c.opts.Server + "/" + c.opts.Topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(msg.Body))
	if err != nil {
		return err
	}
	priority := msg.Priority
	if priority == "" {
		priority = "high"
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("X-Title", HeaderSafe(msg.Title))
	req.Header.Set("X-Priority", priority)
	if len(msg.Tags) > 0 {
		tags := make([]string, len(msg.Tags))
		for i, t := range msg.Tags {
			tags[i] = HeaderSafe(t)
		}
		req.Header.Set("X-Tags", strings.Join(tags, ","))
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ntfy: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// HeaderSafe folds accented letters to ASCII so titles survive as HTTP
// header values. ł has no decomposition and is mapped by hand.
func HeaderSafe(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return strings.NewReplacer("ł", "l", "Ł", "L").Replace(out)
}

// NotifyMatch announces an accepted offer. Nothing is sent when no item
// matched with price.
func (c *Client) NotifyMatch(ctx context.Context, subject string, res internal.BatchMatchResult) bool {
	var matched, rejected []internal.MatchOutcome
	for _, o := range res.Outcomes {
		if o.IsMatch {
			matched = append(matched, o)
		} else {
			rejected = append(rejected, o)
		}
	}
	if len(matched) == 0 {
		return false
	}

	noun := productNoun(res.ProductType)
	var b strings.Builder
	fmt.Fprintf(&b, "Email: %s\n\n", subject)
	fmt.Fprintf(&b, "%d %s within criteria:\n\n", len(matched), noun)
	for i, o := range matched {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o.Item)
		if o.AllowedPrice > 0 {
			fmt.Fprintf(&b, "   Price: %.2f EUR/pc (max %.2f EUR)\n", o.ActualUnitPrice, o.AllowedPrice)
		}
		if units := internal.Units(o.Amount); units > 1 {
			fmt.Fprintf(&b, "   Quantity: %d\n", units)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Stats: %d/%d units at the right price (threshold %d%%)",
		res.MatchedWithPriceUnits, res.TotalUnits, res.Threshold)
	writeRejected(&b, rejected)

	return c.Send(ctx, Message{
		Title:    fmt.Sprintf("Found %d %s in offer", len(matched), noun),
		Body:     b.String(),
		Priority: "high",
		Tags:     []string{string(res.ProductType), "offer", "match"},
	})
}

// NotifyRejected summarizes why a tracked offer did not qualify. It stays
// quiet when no item was on the watch list at all.
func (c *Client) NotifyRejected(ctx context.Context, subject string, res internal.BatchMatchResult) bool {
	var tracked []internal.MatchOutcome
	for _, o := range res.Outcomes {
		if o.IdentityMatched && !o.IsMatch {
			tracked = append(tracked, o)
		}
	}
	if len(tracked) == 0 {
		return false
	}

	noun := productNoun(res.ProductType)
	var b strings.Builder
	fmt.Fprintf(&b, "Email: %s\n\n", subject)
	fmt.Fprintf(&b, "No offer passed. Tracked %s rejected:\n\n", noun)
	for i, o := range tracked {
		fmt.Fprintf(&b, "%d. %s\n   Reason: %s\n\n", i+1, o.Item, o.Reason)
	}
	fmt.Fprintf(&b, "Stats: %d/%d units at the right price", res.MatchedWithPriceUnits, res.TotalUnits)

	return c.Send(ctx, Message{
		Title:    fmt.Sprintf("Offer without a match (%d rejected)", len(tracked)),
		Body:     b.String(),
		Priority: "default",
		Tags:     []string{string(res.ProductType), "offer", "rejected"},
	})
}

func (c *Client) SendTest(ctx context.Context) bool {
	return c.Send(ctx, Message{
		Title:    "Test notification",
		Body:     "offerwatch can reach this topic.",
		Priority: "default",
		Tags:     []string{"test"},
	})
}

func writeRejected(b *strings.Builder, rejected []internal.MatchOutcome) {
	if len(rejected) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n--- Rejected (%d) ---\n\n", len(rejected))
	for i, o := range rejected {
		fmt.Fprintf(b, "%d. %s\n   Reason: %s\n\n", i+1, o.Item, o.Reason)
	}
}

func productNoun(pt internal.ProductType) string {
	switch pt {
	case internal.ProductMonitor:
		return "monitor(s)"
	case internal.ProductDesktop:
		return "PC(s)"
	default:
		return "laptop(s)"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
