// Package imap watches an IMAP inbox: a connection state machine, a
// reconnect policy driven by its events and a UID-watermark fetcher.
package imap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"offerwatch/internal"
	"offerwatch/internal/connectors"
)

const DefaultFetchTimeout = 60 * time.Second

type MailboxOptions struct {
	Options
	Reconnect    ReconnectOptions
	FetchTimeout time.Duration
}

// Mailbox is the IMAP connectors.Source.
type Mailbox struct {
	conn      *Connection
	reconnect *ReconnectManager
	fetcher   *Fetcher
	timeout   time.Duration
	log       *slog.Logger
}

var _ connectors.Source = (*Mailbox)(nil)

// NewMailbox wires the pieces together. A nil dial uses NetDialer.
func NewMailbox(opts MailboxOptions, dial Dialer, log *slog.Logger) *Mailbox {
	conn := NewConnection(opts.Options, dial, log)
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Mailbox{
		conn:      conn,
		reconnect: NewReconnectManager(conn, opts.Reconnect, log),
		fetcher:   NewFetcher(conn, connectors.DecodeMessage, log),
		timeout:   opts.FetchTimeout,
		log:       log,
	}
}

// Start connects once. A failed first dial is handed to the reconnect
// policy unless it is a rejected login and StopOnAuthFailure is set.
func (m *Mailbox) Start(ctx context.Context) error {
	const opn = "imap.Mailbox.Start"

	go m.reconnect.Watch(ctx, m.conn.Subscribe())

	if err := m.conn.Connect(ctx); err != nil {
		if m.reconnect.opts.StopOnAuthFailure && IsAuthError(err) {
			return fmt.Errorf("%s: %w", opn, err)
		}
		m.log.Warn("initial connect failed, retrying in background", slog.String("op", opn), slog.Any("error", err))
		m.reconnect.Schedule()
	}
	return nil
}

func (m *Mailbox) Ready() bool { return m.conn.State() == Connected }

func (m *Mailbox) State() State { return m.conn.State() }

// FetchNewMessages drops the session when the server stopped answering so
// the reconnect policy takes over.
func (m *Mailbox) FetchNewMessages(ctx context.Context) ([]internal.MailMessage, error) {
	msgs, err := m.fetcher.FetchNewMessages(ctx, m.timeout)
	if err != nil {
		var connErr *ConnectivityError
		if errors.As(Classify(err), &connErr) {
			m.conn.Drop(connErr)
		}
		return nil, err
	}
	return msgs, nil
}

func (m *Mailbox) MarkAsSeen(ctx context.Context, msg internal.MailMessage) error {
	return m.fetcher.MarkAsSeen(ctx, msg.UID)
}

// OnReconnected runs fn after every successful re-dial.
func (m *Mailbox) OnReconnected(fn func()) { m.reconnect.OnReconnected(fn) }

func (m *Mailbox) Fatal() <-chan error { return m.reconnect.Fatal() }

func (m *Mailbox) Close() error {
	m.reconnect.Stop()
	return m.conn.Disconnect()
}
