// Package listener polls a mail source and drives each new message through
// the processor, one at a time, under a per-message deadline.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"offerwatch/internal"
	"offerwatch/internal/connectors"
	"offerwatch/internal/pipeline"
)

const (
	DefaultInterval       = 60 * time.Second
	DefaultProcessTimeout = 120 * time.Second
)

type Processor interface {
	Process(ctx context.Context, msg internal.MailMessage, claim *pipeline.Claim) (pipeline.Outcome, error)
}

type Archiver interface {
	Store(raw []byte) (string, error)
}

// reconnectNotifier is implemented by sources that can lose and regain
// their connection.
type reconnectNotifier interface {
	OnReconnected(fn func())
}

type Options struct {
	Interval       time.Duration
	ProcessTimeout time.Duration
	// Archive is optional; raw messages are kept when set.
	Archive Archiver
}

type Service struct {
	source  connectors.Source
	proc    Processor
	stats   pipeline.StatsRecorder
	archive Archiver
	log     *slog.Logger

	interval time.Duration
	timeout  time.Duration

	checking atomic.Bool
	wake     chan struct{}
}

func NewService(source connectors.Source, proc Processor, stats pipeline.StatsRecorder, opts Options, log *slog.Logger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = DefaultProcessTimeout
	}
	return &Service{
		source:   source,
		proc:     proc,
		stats:    stats,
		archive:  opts.Archive,
		log:      log,
		interval: opts.Interval,
		timeout:  opts.ProcessTimeout,
		wake:     make(chan struct{}, 1),
	}
}

// Run starts the source and polls it until ctx is done or the source gives
// up. The first check only sets the source's watermark.
func (s *Service) Run(ctx context.Context) error {
	const opn = "listener.Run"
	log := s.log.With(slog.String("op", opn))

	if rn, ok := s.source.(reconnectNotifier); ok {
		rn.OnReconnected(s.Wake)
	}
	if err := s.source.Start(ctx); err != nil {
		return fmt.Errorf("%s: start source: %w", opn, err)
	}
	defer func() {
		if err := s.source.Close(); err != nil {
			log.Warn("close source", slog.Any("error", err))
		}
	}()

	log.Info("listening", slog.Duration("interval", s.interval), slog.Duration("process_timeout", s.timeout))
	s.Check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case err := <-s.source.Fatal():
			log.Error("mail source gave up", slog.Any("error", err))
			return fmt.Errorf("%s: %w", opn, err)
		case <-ticker.C:
			s.Check(ctx)
		case <-s.wake:
			log.Info("source reconnected, checking now")
			s.Check(ctx)
		}
	}
}

// Wake asks the loop for an immediate check.
func (s *Service) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Check fetches and handles new mail. Overlapping checks are skipped.
func (s *Service) Check(ctx context.Context) {
	const opn = "listener.Check"
	log := s.log.With(slog.String("op", opn))

	if !s.checking.CompareAndSwap(false, true) {
		log.Debug("previous check still running, skipping")
		return
	}
	defer s.checking.Store(false)

	if !s.source.Ready() {
		log.Debug("source not ready, skipping")
		return
	}

	msgs, err := s.source.FetchNewMessages(ctx)
	if err != nil {
		log.Error("fetch new messages", slog.Any("error", err))
		return
	}
	if len(msgs) > 0 {
		log.Info("new messages", slog.Int("count", len(msgs)))
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		s.handle(ctx, msg)
	}
}

type result struct {
	out pipeline.Outcome
	err error
}

func (s *Service) handle(ctx context.Context, msg internal.MailMessage) {
	log := s.log.With(
		slog.String("op", "listener.handle"),
		slog.String("subject", msg.Subject),
		slog.String("from", msg.From),
	)

	if s.archive != nil && len(msg.Raw) > 0 {
		if path, err := s.archive.Store(msg.Raw); err != nil {
			log.Warn("archive message", slog.Any("error", err))
		} else {
			log.Debug("message archived", slog.String("path", path))
		}
	}

	if s.stats != nil {
		if _, err := s.stats.InsertStat(ctx, internal.StatRecord{
			Status:  internal.StatProcessed,
			Subject: msg.Subject,
			From:    msg.From,
		}); err != nil {
			log.Error("record processed", slog.Any("error", err))
		}
	}

	// Processing outlives shutdown of ctx and is cut only by its own timeout.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	claim := pipeline.NewClaim()
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := s.proc.Process(procCtx, msg, claim)
		done <- result{out: out, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		switch {
		case errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded):
			log.Warn("processing aborted, leaving message unseen", slog.Any("error", r.err))
			return
		case r.err != nil:
			log.Error("process message", slog.Any("error", r.err))
		default:
			log.Info("message processed",
				slog.String("trace_id", r.out.TraceID),
				slog.String("status", string(r.out.Status)),
				slog.String("reason", r.out.Reason),
			)
		}
	case <-timer.C:
		if claim.Revoke() {
			log.Warn("processing timed out, result will be discarded", slog.Duration("timeout", s.timeout))
		} else {
			log.Warn("processing timed out after recording its outcome", slog.Duration("timeout", s.timeout))
		}
		cancel()
	}

	if err := s.source.MarkAsSeen(context.WithoutCancel(ctx), msg); err != nil {
		log.Warn("mark as seen", slog.Any("error", err))
	}
}
