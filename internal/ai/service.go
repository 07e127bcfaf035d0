// Package ai wraps the generative model used to classify offer mails and to
// pull product lines out of mail bodies and spreadsheets.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"offerwatch/internal"
)

const (
	SpreadsheetChunkRows = 18
	chunkDelay           = 400 * time.Millisecond
)

type Service struct {
	llm   Completer
	retry retrier
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService builds the service. attempts is the transient retry budget per
// model call; a negative value selects DefaultRetries.
func NewService(llm Completer, attempts int, log *slog.Logger) *Service {
	if attempts < 0 {
		attempts = DefaultRetries
	}
	return &Service{
		llm:   llm,
		retry: retrier{attempts: attempts, log: log, sleep: sleepCtx},
		log:   log,
		sleep: sleepCtx,
	}
}

func (s *Service) complete(ctx context.Context, opn, prompt string) (string, error) {
	var reply string
	err := s.retry.do(ctx, opn, func(ctx context.Context) error {
		out, err := s.llm.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		reply = out
		return nil
	})
	return reply, err
}

// Ping checks that the model answers at all.
func (s *Service) Ping(ctx context.Context) error {
	const opn = "ai.Ping"

	reply, err := s.llm.Complete(ctx, `Test connection. Respond with "OK".`)
	if err != nil {
		return fmt.Errorf("%s: %w", opn, err)
	}
	if !strings.Contains(strings.ToLower(reply), "ok") {
		return fmt.Errorf("%s: unexpected reply %q", opn, tail(reply, 80))
	}
	return nil
}

// AnalyzeOffer classifies a mail. When the model cannot be reached the
// keyword scorer answers instead. A cancelled ctx yields an empty analysis;
// callers check ctx.Err().
func (s *Service) AnalyzeOffer(ctx context.Context, msg internal.MailMessage) internal.OfferAnalysis {
	const opn = "ai.AnalyzeOffer"
	log := s.log.With(slog.String("op", opn))

	prompt := analysisPrompt(PrepareEmailContent(msg, AnalysisContentLimit, false))
	reply, err := s.complete(ctx, opn, prompt)
	if err != nil && ctx.Err() != nil {
		log.Warn("classification aborted", slog.Any("error", ctx.Err()))
		return internal.OfferAnalysis{}
	}
	if err != nil {
		log.Warn("model unavailable, using keyword fallback",
			slog.Bool("transient", IsTransient(err)),
			slog.Any("error", err),
		)
		return FallbackOfferAnalysis(msg)
	}
	log.Debug("classification reply", slog.String("reply", tail(reply, 500)))
	return parseAnalysis(reply, log)
}

// ParseEmailContent extracts laptops from the mail body. A model failure
// yields an empty offer.
func (s *Service) ParseEmailContent(ctx context.Context, msg internal.MailMessage) internal.LaptopOffer {
	const opn = "ai.ParseEmailContent"
	log := s.log.With(slog.String("op", opn))

	prompt := laptopEmailPrompt(PrepareEmailContent(msg, ParsingContentLimit, true))
	reply, err := s.complete(ctx, opn, prompt)
	if err != nil {
		log.Warn("no laptops extracted from mail body", slog.Any("error", err))
		return internal.LaptopOffer{}
	}
	part := parseLaptops(reply, log)
	if n := FillMissingFromText(part.Items, msg.Text, msg.HTML); n > 0 {
		log.Debug("filled fields from mail text", slog.Int("fields", n))
	}
	log.Info("laptops extracted from mail body", slog.Int("count", len(part.Items)))
	return laptopOffer(part)
}

// ParseSpreadsheet extracts laptops from sheet rows, the first row being
// the header.
func (s *Service) ParseSpreadsheet(ctx context.Context, rows [][]string) (internal.LaptopOffer, error) {
	part, err := parseRows(ctx, s, "ai.ParseSpreadsheet", rows, laptopRowsPrompt, parseLaptops)
	if err != nil {
		return internal.LaptopOffer{}, err
	}
	return laptopOffer(part), nil
}

func (s *Service) ParseMonitors(ctx context.Context, rows [][]string) (internal.MonitorOffer, error) {
	part, err := parseRows(ctx, s, "ai.ParseMonitors", rows, monitorRowsPrompt, parseMonitors)
	if err != nil {
		return internal.MonitorOffer{}, err
	}
	return monitorOffer(part), nil
}

func (s *Service) ParseMonitorsFromEmail(ctx context.Context, msg internal.MailMessage) internal.MonitorOffer {
	const opn = "ai.ParseMonitorsFromEmail"

	reply, err := s.complete(ctx, opn, monitorEmailPrompt(PrepareEmailContent(msg, ParsingContentLimit, true)))
	if err != nil {
		s.log.Warn("no monitors extracted from mail body", slog.String("op", opn), slog.Any("error", err))
		return internal.MonitorOffer{}
	}
	return monitorOffer(parseMonitors(reply, s.log))
}

func (s *Service) ParseDesktops(ctx context.Context, rows [][]string) (internal.DesktopOffer, error) {
	part, err := parseRows(ctx, s, "ai.ParseDesktops", rows, desktopRowsPrompt, parseDesktops)
	if err != nil {
		return internal.DesktopOffer{}, err
	}
	return desktopOffer(part), nil
}

func (s *Service) ParseDesktopsFromEmail(ctx context.Context, msg internal.MailMessage) internal.DesktopOffer {
	const opn = "ai.ParseDesktopsFromEmail"

	reply, err := s.complete(ctx, opn, desktopEmailPrompt(PrepareEmailContent(msg, ParsingContentLimit, true)))
	if err != nil {
		s.log.Warn("no desktops extracted from mail body", slog.String("op", opn), slog.Any("error", err))
		return internal.DesktopOffer{}
	}
	return desktopOffer(parseDesktops(reply, s.log))
}

// parseRows sends small sheets in one prompt. Larger ones go in sequential
// chunks that each repeat the header; items are concatenated and the first
// chunk that states a grade or total price wins.
func parseRows[T any](
	ctx context.Context,
	s *Service,
	opn string,
	rows [][]string,
	prompt func([][]string) string,
	decode func(string, *slog.Logger) offerPart[T],
) (offerPart[T], error) {
	log := s.log.With(slog.String("op", opn))

	if len(rows) == 0 {
		return offerPart[T]{}, nil
	}
	if len(rows) <= SpreadsheetChunkRows {
		reply, err := s.complete(ctx, opn, prompt(rows))
		if err != nil {
			return offerPart[T]{}, fmt.Errorf("%s: %w", opn, err)
		}
		return decode(reply, log), nil
	}

	header, data := rows[0], rows[1:]
	chunks := (len(data) + SpreadsheetChunkRows - 1) / SpreadsheetChunkRows
	log.Info("large sheet, parsing in chunks", slog.Int("rows", len(data)), slog.Int("chunks", chunks))

	var out offerPart[T]
	for i := 0; i < len(data); i += SpreadsheetChunkRows {
		end := min(i+SpreadsheetChunkRows, len(data))
		chunk := make([][]string, 0, end-i+1)
		chunk = append(chunk, header)
		chunk = append(chunk, data[i:end]...)

		log.Debug("parsing chunk", slog.Int("chunk", i/SpreadsheetChunkRows+1), slog.Int("from", i+1), slog.Int("to", end))
		reply, err := s.complete(ctx, opn, prompt(chunk))
		if err != nil {
			return offerPart[T]{}, fmt.Errorf("%s: chunk %d: %w", opn, i/SpreadsheetChunkRows+1, err)
		}
		part := decode(reply, log)
		out.Items = append(out.Items, part.Items...)
		if out.Grade == "" {
			out.Grade = part.Grade
		}
		if out.TotalPrice == "" {
			out.TotalPrice = part.TotalPrice
		}

		if end < len(data) {
			if err := s.sleep(ctx, chunkDelay); err != nil {
				return offerPart[T]{}, fmt.Errorf("%s: %w", opn, err)
			}
		}
	}
	out.TotalQuantity = len(out.Items)
	return out, nil
}

func laptopOffer(p offerPart[internal.LaptopSpec]) internal.LaptopOffer {
	return internal.LaptopOffer{Laptops: p.Items, Grade: p.Grade, TotalPrice: p.TotalPrice, TotalQuantity: p.TotalQuantity}
}

func monitorOffer(p offerPart[internal.MonitorSpec]) internal.MonitorOffer {
	return internal.MonitorOffer{Monitors: p.Items, Grade: p.Grade, TotalPrice: p.TotalPrice, TotalQuantity: p.TotalQuantity}
}

func desktopOffer(p offerPart[internal.DesktopSpec]) internal.DesktopOffer {
	return internal.DesktopOffer{Desktops: p.Items, Grade: p.Grade, TotalPrice: p.TotalPrice, TotalQuantity: p.TotalQuantity}
}
