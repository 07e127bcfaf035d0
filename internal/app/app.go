// Package app wires configuration into the running services shared by the
// command-line entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"offerwatch/internal/ai"
	"offerwatch/internal/config"
	"offerwatch/internal/connectors"
	gmailconnector "offerwatch/internal/connectors/gmail"
	imapconnector "offerwatch/internal/connectors/imap"
	"offerwatch/internal/currency"
	"offerwatch/internal/listener"
	"offerwatch/internal/matcher"
	"offerwatch/internal/notify"
	"offerwatch/internal/pipeline"
	"offerwatch/internal/storage"
)

// NewSource builds the mailbox named by MAIL_PROVIDER.
func NewSource(cfg config.Config, log *slog.Logger) (connectors.Source, error) {
	switch cfg.MailProvider {
	case "gmail":
		return gmailconnector.NewSource(gmailconnector.OptionsFromConfig(cfg), log), nil
	case "imap", "":
		return imapconnector.NewMailbox(imapconnector.MailboxOptions{
			Options: imapconnector.Options{
				Host:     cfg.EmailHost,
				Port:     cfg.EmailPort,
				TLS:      cfg.EmailTLS,
				User:     cfg.EmailUser,
				Password: cfg.EmailPassword,
			},
			Reconnect: imapconnector.ReconnectOptions{
				Base:              cfg.ReconnectBaseDelay,
				MaxAttempts:       cfg.ReconnectMaxAttempt,
				StopOnAuthFailure: cfg.StopOnAuthFailure,
			},
			FetchTimeout: cfg.FetchTimeout,
		}, nil, log), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", cfg.MailProvider)
	}
}

func NewNotifier(cfg config.Config, log *slog.Logger) *notify.Client {
	return notify.NewClient(notify.Options{
		Server:  cfg.NtfyServer,
		Topic:   cfg.NtfyTopic,
		Token:   cfg.NtfyToken,
		Enabled: cfg.NtfyEnabled,
	}, log)
}

func NewExtractor(cfg config.Config, log *slog.Logger) *ai.Service {
	client := ai.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, ai.NewRateLimiter(cfg.AIRateLimitRPS))
	return ai.NewService(client, cfg.AIRetryAttempts, log)
}

func NewMatcher(cfg config.Config, db *storage.DB, log *slog.Logger) *matcher.Service {
	rates := currency.NewService(cfg.NBPBaseURL, currency.NewCache(cfg.CurrencyCacheTTL), log)
	return matcher.NewService(db, rates, cfg.DefaultMatchThreshold, log)
}

// NewProcessor builds the full offer pipeline on top of db.
func NewProcessor(cfg config.Config, db *storage.DB, log *slog.Logger) *pipeline.Processor {
	var notifier pipeline.Notifier
	if n := NewNotifier(cfg, log); n.Enabled() {
		notifier = n
	}
	return pipeline.NewProcessor(NewExtractor(cfg, log), NewMatcher(cfg, db, log), db, notifier, log)
}

// NewListener wires the mailbox, the processor and the stats store.
func NewListener(cfg config.Config, db *storage.DB, log *slog.Logger) (*listener.Service, error) {
	if err := cfg.RequireMailbox(); err != nil {
		return nil, err
	}
	if err := cfg.Require("GEMINI_API_KEY", cfg.GeminiAPIKey); err != nil {
		return nil, err
	}
	source, err := NewSource(cfg, log)
	if err != nil {
		return nil, err
	}
	opts := listener.Options{
		Interval:       cfg.CheckInterval,
		ProcessTimeout: cfg.ProcessTimeout,
	}
	if cfg.ArchiveDir != "" {
		opts.Archive = connectors.NewArchive(cfg.ArchiveDir)
	}
	return listener.NewService(source, NewProcessor(cfg, db, log), db, opts, log), nil
}

// Listen runs the listener until ctx ends.
func Listen(ctx context.Context, cfg config.Config, db *storage.DB, log *slog.Logger) error {
	svc, err := NewListener(cfg, db, log)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
