// Package gmail is the Gmail API mail source, used instead of IMAP when
// MAIL_PROVIDER=gmail.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"offerwatch/internal"
	"offerwatch/internal/config"
	"offerwatch/internal/connectors"
)

const (
	DefaultQuery = "is:unread in:inbox"
	unreadLabel  = "UNREAD"
	pageSize     = 50
)

type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RefreshToken string
	Query        string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		RedirectURI:  cfg.GmailRedirectURI,
		RefreshToken: cfg.GmailRefreshToken,
	}
}

// Source polls unread inbox mail. Its watermark is the newest internalDate
// seen, in epoch milliseconds.
type Source struct {
	opts       Options
	clientOpts []option.ClientOption
	log        *slog.Logger

	service *gmail.Service
	ready   atomic.Bool
	fatal   chan error

	mu          sync.Mutex
	watermark   int64
	initialized bool
	inProgress  atomic.Bool
}

var _ connectors.Source = (*Source)(nil)

// NewSource builds a source. Extra client options replace the OAuth token
// source when given.
func NewSource(opts Options, log *slog.Logger, clientOpts ...option.ClientOption) *Source {
	if opts.Query == "" {
		opts.Query = DefaultQuery
	}
	return &Source{opts: opts, clientOpts: clientOpts, log: log, fatal: make(chan error, 1)}
}

func (s *Source) Start(ctx context.Context) error {
	const opn = "gmail.Source.Start"

	clientOpts := s.clientOpts
	if len(clientOpts) == 0 {
		oauthCfg := &oauth2.Config{
			ClientID:     s.opts.ClientID,
			ClientSecret: s.opts.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  s.opts.RedirectURI,
			Scopes:       []string{gmail.GmailModifyScope},
		}
		ts := oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: s.opts.RefreshToken})
		clientOpts = []option.ClientOption{option.WithTokenSource(ts)}
	}

	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return fmt.Errorf("%s: %w", opn, err)
	}
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: profile: %w", opn, err)
	}
	s.service = svc
	s.ready.Store(true)
	s.log.Info("gmail connected", slog.String("op", opn), slog.String("account", profile.EmailAddress))
	return nil
}

func (s *Source) Ready() bool { return s.ready.Load() }

func (s *Source) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

func (s *Source) FetchNewMessages(ctx context.Context) ([]internal.MailMessage, error) {
	const opn = "gmail.Source.FetchNewMessages"
	log := s.log.With(slog.String("op", opn))

	if !s.Ready() {
		return nil, nil
	}
	if !s.inProgress.CompareAndSwap(false, true) {
		log.Debug("fetch already in progress, skipping")
		return nil, nil
	}
	defer s.inProgress.Store(false)

	s.mu.Lock()
	wm, initialized := s.watermark, s.initialized
	s.mu.Unlock()

	query := s.opts.Query
	if initialized && wm > 0 {
		query = fmt.Sprintf("%s after:%d", query, wm/1000)
	}
	list, err := s.service.Users.Messages.List("me").Q(query).MaxResults(pageSize).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: list: %w", opn, err)
	}

	if !initialized {
		newest := int64(0)
		for _, ref := range list.Messages {
			meta, err := s.service.Users.Messages.Get("me", ref.Id).Format("minimal").Context(ctx).Do()
			if err != nil {
				return nil, fmt.Errorf("%s: get %s: %w", opn, ref.Id, err)
			}
			newest = max(newest, meta.InternalDate)
		}
		s.mu.Lock()
		s.watermark = newest
		s.initialized = true
		s.mu.Unlock()
		log.Info("initial mailbox check", slog.Int("unread", len(list.Messages)), slog.Int64("watermark", newest))
		return nil, nil
	}

	var (
		out    []internal.MailMessage
		newest = wm
	)
	for _, ref := range list.Messages {
		if ref.Id == "" {
			continue
		}
		full, err := s.service.Users.Messages.Get("me", ref.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("%s: get %s: %w", opn, ref.Id, err)
		}
		if full.InternalDate <= wm || full.Raw == "" {
			continue
		}
		raw, err := decodeBase64URL(full.Raw)
		if err != nil {
			log.Error("decode raw payload", slog.String("id", ref.Id), slog.Any("error", err))
			continue
		}
		msg, err := connectors.DecodeMessage(raw)
		if err != nil {
			log.Error("decode message", slog.String("id", ref.Id), slog.Any("error", err))
			continue
		}
		msg.Provider = "gmail"
		msg.SourceRef = ref.Id
		if msg.MessageID == "" {
			msg.MessageID = ref.Id
		}
		out = append(out, msg)
		newest = max(newest, full.InternalDate)
	}

	s.mu.Lock()
	s.watermark = max(s.watermark, newest)
	s.mu.Unlock()
	return out, nil
}

// MarkAsSeen removes the UNREAD label.
func (s *Source) MarkAsSeen(ctx context.Context, msg internal.MailMessage) error {
	const opn = "gmail.Source.MarkAsSeen"

	if !s.Ready() {
		return fmt.Errorf("%s: not started", opn)
	}
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := s.service.Users.Messages.Modify("me", msg.SourceRef, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%s: %s: %w", opn, msg.SourceRef, err)
	}
	return nil
}

// Fatal never fires: API failures are retried on the next tick.
func (s *Source) Fatal() <-chan error { return s.fatal }

func (s *Source) Close() error {
	s.ready.Store(false)
	return nil
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("decode gmail raw payload: %w", err)
}
