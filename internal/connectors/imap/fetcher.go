package imap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"

	"offerwatch/internal"
)

const Inbox = "INBOX"

// SessionProvider hands out the live session; *Connection implements it.
type SessionProvider interface {
	Session() (Session, bool)
}

// Fetcher pulls unseen messages above a UID watermark. The watermark only
// moves past messages that were decoded and handed to the caller.
type Fetcher struct {
	conn   SessionProvider
	decode func(raw []byte) (internal.MailMessage, error)
	log    *slog.Logger

	mu          sync.Mutex
	watermark   uint32
	initialized bool
	inProgress  atomic.Bool
}

func NewFetcher(conn SessionProvider, decode func([]byte) (internal.MailMessage, error), log *slog.Logger) *Fetcher {
	return &Fetcher{conn: conn, decode: decode, log: log}
}

func (f *Fetcher) Watermark() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermark
}

type fetchResult struct {
	messages []internal.MailMessage
	maxUID   uint32
	uidNext  uint32
	initial  bool
	err      error
}

// FetchNewMessages returns unseen messages above the watermark. The first
// call only records the watermark. A concurrent call, a missing session or
// an expired timeout all yield an empty list; a late result is discarded
// without touching the watermark.
func (f *Fetcher) FetchNewMessages(ctx context.Context, timeout time.Duration) ([]internal.MailMessage, error) {
	const opn = "imap.Fetcher.FetchNewMessages"
	log := f.log.With(slog.String("op", opn))

	if !f.inProgress.CompareAndSwap(false, true) {
		log.Debug("fetch already in progress, skipping")
		return nil, nil
	}
	defer f.inProgress.Store(false)

	sess, ok := f.conn.Session()
	if !ok {
		log.Debug("not connected, skipping fetch")
		return nil, nil
	}

	f.mu.Lock()
	wm, initialized := f.watermark, f.initialized
	f.mu.Unlock()

	done := make(chan fetchResult, 1)
	go func() { done <- f.fetch(sess, wm, initialized) }()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutC:
		log.Warn("fetch timed out", slog.Duration("timeout", timeout))
		return nil, nil
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", opn, res.err)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if res.initial {
			f.watermark = res.uidNext - 1
			if res.uidNext == 0 {
				f.watermark = 0
			}
			f.initialized = true
			log.Info("initial mailbox check", slog.Uint64("starting_uid", uint64(f.watermark)+1))
			return nil, nil
		}
		f.watermark = max(f.watermark, res.maxUID)
		return res.messages, nil
	}
}

func (f *Fetcher) fetch(sess Session, watermark uint32, initialized bool) fetchResult {
	status, err := sess.Select(Inbox, false)
	if err != nil {
		return fetchResult{err: fmt.Errorf("select %s: %w", Inbox, err)}
	}
	if !initialized {
		return fetchResult{initial: true, uidNext: status.UidNext}
	}

	uidRange := new(imap.SeqSet)
	uidRange.AddRange(watermark+1, 0)
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Uid = uidRange

	found, err := sess.UidSearch(criteria)
	if err != nil {
		return fetchResult{err: fmt.Errorf("search: %w", err)}
	}
	// "n:*" matches the highest UID even when n is above it.
	uids := make([]uint32, 0, len(found))
	for _, uid := range found {
		if uid > watermark {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return fetchResult{maxUID: watermark}
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, len(uids))
	fetchErr := make(chan error, 1)
	go func() { fetchErr <- sess.UidFetch(seqset, items, ch) }()

	res := fetchResult{maxUID: watermark}
	for msg := range ch {
		if msg == nil || msg.Uid == 0 {
			f.log.Warn("message without UID, skipping")
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			f.log.Warn("message without body, skipping", slog.Uint64("uid", uint64(msg.Uid)))
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			f.log.Error("read message body", slog.Uint64("uid", uint64(msg.Uid)), slog.Any("error", err))
			continue
		}
		decoded, err := f.decode(raw)
		if err != nil {
			f.log.Error("decode message", slog.Uint64("uid", uint64(msg.Uid)), slog.Any("error", err))
			continue
		}
		decoded.UID = msg.Uid
		decoded.SourceRef = strconv.FormatUint(uint64(msg.Uid), 10)
		decoded.Provider = "imap"
		res.messages = append(res.messages, decoded)
		res.maxUID = max(res.maxUID, msg.Uid)
	}
	if err := <-fetchErr; err != nil {
		return fetchResult{err: fmt.Errorf("fetch: %w", err)}
	}
	return res
}

// MarkAsSeen sets \Seen on uid.
func (f *Fetcher) MarkAsSeen(_ context.Context, uid uint32) error {
	const opn = "imap.Fetcher.MarkAsSeen"

	sess, ok := f.conn.Session()
	if !ok {
		return fmt.Errorf("%s: %w", opn, ErrNotConnected)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := sess.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("%s: uid %d: %w", opn, uid, err)
	}
	f.log.Debug("marked as seen", slog.String("op", opn), slog.Uint64("uid", uint64(uid)))
	return nil
}
