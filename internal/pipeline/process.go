// Package pipeline turns one decoded offer mail into a terminal outcome:
// classify, route, extract, match, then record and notify.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"offerwatch/internal"
	"offerwatch/internal/util"
)

const DefaultContentDelay = 2 * time.Second

const (
	ReasonSpreadsheetFailed = "spreadsheet parse failed"
	ReasonNoProducts        = "no products extracted"
	ReasonUnsupported       = "unsupported product type"
	ReasonPricesTooHigh     = "prices too high"
	ReasonNotAllTracked     = "not all items tracked"
)

type Extractor interface {
	AnalyzeOffer(ctx context.Context, msg internal.MailMessage) internal.OfferAnalysis
	ParseEmailContent(ctx context.Context, msg internal.MailMessage) internal.LaptopOffer
	ParseSpreadsheet(ctx context.Context, rows [][]string) (internal.LaptopOffer, error)
	ParseMonitors(ctx context.Context, rows [][]string) (internal.MonitorOffer, error)
	ParseMonitorsFromEmail(ctx context.Context, msg internal.MailMessage) internal.MonitorOffer
	ParseDesktops(ctx context.Context, rows [][]string) (internal.DesktopOffer, error)
	ParseDesktopsFromEmail(ctx context.Context, msg internal.MailMessage) internal.DesktopOffer
}

type Matcher interface {
	MatchLaptops(ctx context.Context, offer internal.LaptopOffer) (internal.BatchMatchResult, error)
	MatchMonitors(ctx context.Context, offer internal.MonitorOffer) (internal.BatchMatchResult, error)
	MatchDesktops(ctx context.Context, offer internal.DesktopOffer) (internal.BatchMatchResult, error)
}

type StatsRecorder interface {
	InsertStat(ctx context.Context, rec internal.StatRecord) (internal.StatRecord, error)
}

type Notifier interface {
	NotifyMatch(ctx context.Context, subject string, res internal.BatchMatchResult) bool
	NotifyRejected(ctx context.Context, subject string, res internal.BatchMatchResult) bool
}

// Claim decides who records the terminal outcome of one message: the
// processor or the timeout that gave up on it. Only the first caller wins.
// A nil Claim always lets the processor write.
type Claim struct {
	state atomic.Int32
}

const (
	claimOpen int32 = iota
	claimTaken
	claimRevoked
)

func NewClaim() *Claim { return &Claim{} }

// Take reports whether the processor may write. It stays true for the
// owner on repeated calls.
func (c *Claim) Take() bool {
	if c == nil {
		return true
	}
	return c.state.CompareAndSwap(claimOpen, claimTaken) || c.state.Load() == claimTaken
}

// Revoke reports whether the outcome was revoked before the processor
// took it.
func (c *Claim) Revoke() bool {
	return c.state.CompareAndSwap(claimOpen, claimRevoked)
}

type Outcome struct {
	TraceID     string
	Status      internal.StatStatus
	Reason      string
	ProductType internal.ProductType
	Analysis    internal.OfferAnalysis
	Items       int
	Result      *internal.BatchMatchResult
	// Discarded is set when the claim was revoked and nothing was written.
	Discarded bool
}

type Processor struct {
	ai       Extractor
	matcher  Matcher
	stats    StatsRecorder
	notifier Notifier
	log      *slog.Logger

	contentDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	newID        func() string
}

// NewProcessor wires a processor. stats and notifier may be nil for dry
// runs.
func NewProcessor(ai Extractor, m Matcher, stats StatsRecorder, notifier Notifier, log *slog.Logger) *Processor {
	return &Processor{
		ai:           ai,
		matcher:      m,
		stats:        stats,
		notifier:     notifier,
		log:          log,
		contentDelay: DefaultContentDelay,
		sleep:        sleepCtx,
		newID:        uuid.NewString,
	}
}

// Process runs one message to its terminal outcome. Errors are returned
// only for failures that left no outcome (matcher or context errors); a
// cancelled ctx aborts before anything is recorded.
func (p *Processor) Process(ctx context.Context, msg internal.MailMessage, claim *Claim) (Outcome, error) {
	const opn = "pipeline.Process"

	out := Outcome{TraceID: p.newID()}
	log := p.log.With(
		slog.String("op", opn),
		slog.String("trace_id", out.TraceID),
		slog.String("subject", msg.Subject),
	)

	analysis := p.ai.AnalyzeOffer(ctx, msg)
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("%s: classify: %w", opn, err)
	}
	out.Analysis = analysis
	if !analysis.IsOffer {
		log.Debug("not an offer", slog.Int("confidence", analysis.Confidence))
		return p.finish(ctx, log, claim, msg, out, internal.StatRejected,
			fmt.Sprintf("not an offer (confidence %d%%)", analysis.Confidence)), nil
	}

	pt, ok := RouteProductType(analysis)
	if !ok {
		log.Info("offer is not about tracked hardware",
			slog.String("category", analysis.Category),
			slog.String("product_type", analysis.Details.ProductType))
		return p.finish(ctx, log, claim, msg, out, internal.StatRejected, ReasonUnsupported), nil
	}
	out.ProductType = pt
	log = log.With(slog.String("product", string(pt)))
	log.Info("offer detected", slog.Int("confidence", analysis.Confidence), slog.Bool("fallback", analysis.Fallback))

	var (
		ex  extracted
		err error
	)
	switch pt {
	case internal.ProductMonitor:
		ex, err = runRoute(ctx, p, log, msg, monitorRoute(p))
	case internal.ProductDesktop:
		ex, err = runRoute(ctx, p, log, msg, desktopRoute(p))
	default:
		ex, err = runRoute(ctx, p, log, msg, laptopRoute(p))
	}
	if err != nil {
		return out, fmt.Errorf("%s: %w", opn, err)
	}
	out.Items = ex.items
	if ex.reason != "" {
		return p.finish(ctx, log, claim, msg, out, internal.StatRejected, ex.reason), nil
	}

	res := ex.result
	out.Result = &res
	log.Info("offer matched",
		slog.Int("units", res.TotalUnits),
		slog.Float64("identity_pct", res.IdentityPct),
		slog.Float64("price_pct", res.PricePct),
		slog.Int("threshold", res.Threshold),
		slog.Bool("notify", res.ShouldNotify),
	)

	if res.ShouldNotify {
		out = p.finish(ctx, log, claim, msg, out, internal.StatAccepted, "")
		if !out.Discarded && p.notifier != nil {
			p.notifier.NotifyMatch(ctx, msg.Subject, res)
		}
		return out, nil
	}

	reason := ReasonNotAllTracked
	if res.AllMatched {
		reason = ReasonPricesTooHigh
	}
	out = p.finish(ctx, log, claim, msg, out, internal.StatRejected, reason)
	if !out.Discarded && p.notifier != nil {
		p.notifier.NotifyRejected(ctx, msg.Subject, res)
	}
	return out, nil
}

func (p *Processor) finish(ctx context.Context, log *slog.Logger, claim *Claim, msg internal.MailMessage, out Outcome, status internal.StatStatus, reason string) Outcome {
	out.Status = status
	out.Reason = reason
	if !claim.Take() {
		out.Discarded = true
		log.Warn("outcome arrived after timeout, discarded", slog.String("status", string(status)))
		return out
	}
	if p.stats == nil {
		return out
	}
	_, err := p.stats.InsertStat(ctx, internal.StatRecord{
		Status:      status,
		Reason:      reason,
		Subject:     msg.Subject,
		From:        msg.From,
		ProductType: out.ProductType,
	})
	if err != nil {
		log.Error("record outcome", slog.Any("error", err))
	}
	return out
}

type extracted struct {
	items  int
	reason string
	result internal.BatchMatchResult
}

type route[O any] struct {
	fromRows  func(context.Context, [][]string) (O, error)
	fromEmail func(context.Context, internal.MailMessage) O
	merge     func(dst *O, src O)
	count     func(O) int
	match     func(context.Context, O) (internal.BatchMatchResult, error)
}

// runRoute extracts from spreadsheets when the mail has any, else from the
// body plus PDF text. Sheets of one mail are merged into one offer.
func runRoute[O any](ctx context.Context, p *Processor, log *slog.Logger, msg internal.MailMessage, r route[O]) (extracted, error) {
	var offer O

	if sheets := spreadsheets(msg); len(sheets) > 0 {
		parsed := 0
		for _, att := range sheets {
			rows, err := SheetRows(att.Content)
			if err != nil {
				log.Error("read spreadsheet", slog.String("file", att.FileName), slog.Any("error", err))
				continue
			}
			o, err := r.fromRows(ctx, rows)
			if cerr := ctx.Err(); cerr != nil {
				return extracted{}, cerr
			}
			if err != nil {
				log.Error("extract spreadsheet", slog.String("file", att.FileName), slog.Any("error", err))
				continue
			}
			if parsed == 0 {
				offer = o
			} else {
				r.merge(&offer, o)
			}
			parsed++
		}
		if parsed == 0 {
			return extracted{reason: ReasonSpreadsheetFailed}, nil
		}
	} else {
		msg = p.withPDFs(log, msg)
		if err := p.sleep(ctx, p.contentDelay); err != nil {
			return extracted{}, err
		}
		offer = r.fromEmail(ctx, msg)
		if err := ctx.Err(); err != nil {
			return extracted{}, err
		}
	}

	n := r.count(offer)
	if n == 0 {
		return extracted{reason: ReasonNoProducts}, nil
	}
	log.Info("products extracted", slog.Int("items", n))

	res, err := r.match(ctx, offer)
	if err != nil {
		return extracted{items: n}, err
	}
	return extracted{items: n, result: res}, nil
}

func (p *Processor) withPDFs(log *slog.Logger, msg internal.MailMessage) internal.MailMessage {
	texts := map[string]string{}
	for _, att := range msg.Attachments {
		if !IsPDF(att) || len(att.Content) == 0 {
			continue
		}
		text, err := PDFText(att.Content)
		if err != nil {
			log.Warn("read pdf attachment", slog.String("file", att.FileName), slog.Any("error", err))
			continue
		}
		texts[att.FileName] = text
	}
	return withPDFText(msg, texts)
}

func laptopRoute(p *Processor) route[internal.LaptopOffer] {
	return route[internal.LaptopOffer]{
		fromRows:  p.ai.ParseSpreadsheet,
		fromEmail: p.ai.ParseEmailContent,
		merge: func(dst *internal.LaptopOffer, src internal.LaptopOffer) {
			dst.Laptops = append(dst.Laptops, src.Laptops...)
			dst.Grade = util.FirstNonEmpty(dst.Grade, src.Grade)
			dst.TotalPrice = util.FirstNonEmpty(dst.TotalPrice, src.TotalPrice)
			dst.TotalQuantity += src.TotalQuantity
		},
		count: func(o internal.LaptopOffer) int { return len(o.Laptops) },
		match: p.matcher.MatchLaptops,
	}
}

func monitorRoute(p *Processor) route[internal.MonitorOffer] {
	return route[internal.MonitorOffer]{
		fromRows:  p.ai.ParseMonitors,
		fromEmail: p.ai.ParseMonitorsFromEmail,
		merge: func(dst *internal.MonitorOffer, src internal.MonitorOffer) {
			dst.Monitors = append(dst.Monitors, src.Monitors...)
			dst.Grade = util.FirstNonEmpty(dst.Grade, src.Grade)
			dst.TotalPrice = util.FirstNonEmpty(dst.TotalPrice, src.TotalPrice)
			dst.TotalQuantity += src.TotalQuantity
		},
		count: func(o internal.MonitorOffer) int { return len(o.Monitors) },
		match: p.matcher.MatchMonitors,
	}
}

func desktopRoute(p *Processor) route[internal.DesktopOffer] {
	return route[internal.DesktopOffer]{
		fromRows:  p.ai.ParseDesktops,
		fromEmail: p.ai.ParseDesktopsFromEmail,
		merge: func(dst *internal.DesktopOffer, src internal.DesktopOffer) {
			dst.Desktops = append(dst.Desktops, src.Desktops...)
			dst.Grade = util.FirstNonEmpty(dst.Grade, src.Grade)
			dst.TotalPrice = util.FirstNonEmpty(dst.TotalPrice, src.TotalPrice)
			dst.TotalQuantity += src.TotalQuantity
		},
		count: func(o internal.DesktopOffer) int { return len(o.Desktops) },
		match: p.matcher.MatchDesktops,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
