package connectors

import (
	"context"

	"offerwatch/internal"
)

// Source is a mailbox the listener polls.
type Source interface {
	// Start connects and arms whatever keeps the source alive.
	Start(ctx context.Context) error
	// Ready reports whether a fetch can run right now.
	Ready() bool
	// FetchNewMessages returns mails that arrived since the previous call.
	// The first call only establishes the watermark.
	FetchNewMessages(ctx context.Context) ([]internal.MailMessage, error)
	MarkAsSeen(ctx context.Context, msg internal.MailMessage) error
	// Fatal fires once the source has given up for good.
	Fatal() <-chan error
	Close() error
}
