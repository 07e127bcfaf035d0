package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerwatch/internal"
	"offerwatch/internal/ai"
	"offerwatch/internal/logging"
	"offerwatch/internal/pipeline"
)

type fakeSource struct {
	mu        sync.Mutex
	ready     bool
	startErr  error
	batches   [][]internal.MailMessage
	fetchErr  error
	fetches   int
	seen      []string
	closed    bool
	fatal     chan error
	reconnect func()
}

func newFakeSource(batches ...[]internal.MailMessage) *fakeSource {
	return &fakeSource{ready: true, batches: batches, fatal: make(chan error, 1)}
}

func (s *fakeSource) Start(context.Context) error { return s.startErr }

func (s *fakeSource) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSource) FetchNewMessages(context.Context) ([]internal.MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func (s *fakeSource) MarkAsSeen(_ context.Context, msg internal.MailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, msg.Subject)
	return nil
}

func (s *fakeSource) Fatal() <-chan error { return s.fatal }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) OnReconnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnect = fn
}

func (s *fakeSource) snapshot() (fetches int, seen []string, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches, append([]string(nil), s.seen...), s.closed
}

// fakeProcessor records a terminal stat through the claim the way the real
// processor does.
type fakeProcessor struct {
	stats   *fakeStats
	delay   map[string]time.Duration
	panicOn string
	release chan struct{}
}

func (p *fakeProcessor) Process(ctx context.Context, msg internal.MailMessage, claim *pipeline.Claim) (pipeline.Outcome, error) {
	if msg.Subject == p.panicOn {
		panic("boom")
	}
	if d := p.delay[msg.Subject]; d > 0 {
		time.Sleep(d)
	}
	out := pipeline.Outcome{TraceID: "t-" + msg.Subject, Status: internal.StatAccepted}
	if !claim.Take() {
		out.Discarded = true
		if p.release != nil {
			close(p.release)
		}
		return out, nil
	}
	_, _ = p.stats.InsertStat(ctx, internal.StatRecord{Status: internal.StatAccepted, Subject: msg.Subject})
	return out, nil
}

type fakeStats struct {
	mu   sync.Mutex
	recs []internal.StatRecord
}

func (s *fakeStats) InsertStat(_ context.Context, rec internal.StatRecord) (internal.StatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return rec, nil
}

func (s *fakeStats) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r.Subject+":"+string(r.Status))
	}
	return out
}

type fakeArchive struct {
	stored int
}

func (a *fakeArchive) Store([]byte) (string, error) {
	a.stored++
	return "/tmp/x.eml", nil
}

func msgs(subjects ...string) []internal.MailMessage {
	out := make([]internal.MailMessage, 0, len(subjects))
	for _, s := range subjects {
		out = append(out, internal.MailMessage{Subject: s, Raw: []byte("raw " + s)})
	}
	return out
}

func TestCheckProcessesEachMessageInOrder(t *testing.T) {
	src := newFakeSource(msgs("a", "b"))
	stats := &fakeStats{}
	archive := &fakeArchive{}
	svc := NewService(src, &fakeProcessor{stats: stats}, stats, Options{Archive: archive}, logging.Discard())

	svc.Check(context.Background())

	assert.Equal(t, []string{"a:processed", "a:accepted", "b:processed", "b:accepted"}, stats.statuses())
	_, seen, _ := src.snapshot()
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, 2, archive.stored)
}

func TestCheckTimeoutDiscardsLateOutcome(t *testing.T) {
	src := newFakeSource(msgs("slow", "next"))
	stats := &fakeStats{}
	proc := &fakeProcessor{stats: stats, delay: map[string]time.Duration{"slow": 100 * time.Millisecond}, release: make(chan struct{})}
	svc := NewService(src, proc, stats, Options{ProcessTimeout: 20 * time.Millisecond}, logging.Discard())

	svc.Check(context.Background())

	select {
	case <-proc.release:
	case <-time.After(2 * time.Second):
		t.Fatal("late processor never finished")
	}
	assert.Equal(t, []string{"slow:processed", "next:processed", "next:accepted"}, stats.statuses())
	_, seen, _ := src.snapshot()
	assert.Equal(t, []string{"slow", "next"}, seen)
}

func TestCheckRecoversPanics(t *testing.T) {
	src := newFakeSource(msgs("bad", "good"))
	stats := &fakeStats{}
	svc := NewService(src, &fakeProcessor{stats: stats, panicOn: "bad"}, stats, Options{}, logging.Discard())

	svc.Check(context.Background())

	assert.Equal(t, []string{"bad:processed", "good:processed", "good:accepted"}, stats.statuses())
	_, seen, _ := src.snapshot()
	assert.Equal(t, []string{"bad", "good"}, seen)
}

func TestCheckSkipsWhenNotReady(t *testing.T) {
	src := newFakeSource(msgs("a"))
	src.ready = false
	svc := NewService(src, &fakeProcessor{stats: &fakeStats{}}, nil, Options{}, logging.Discard())

	svc.Check(context.Background())

	fetches, _, _ := src.snapshot()
	assert.Zero(t, fetches)
}

func TestCheckSkipsWhileRunning(t *testing.T) {
	src := newFakeSource(msgs("a"))
	svc := NewService(src, &fakeProcessor{stats: &fakeStats{}}, nil, Options{}, logging.Discard())
	svc.checking.Store(true)

	svc.Check(context.Background())

	fetches, _, _ := src.snapshot()
	assert.Zero(t, fetches)
}

func TestCheckFetchError(t *testing.T) {
	src := newFakeSource()
	src.fetchErr = errors.New("imap connectivity: EOF")
	stats := &fakeStats{}
	svc := NewService(src, &fakeProcessor{stats: stats}, stats, Options{}, logging.Discard())

	svc.Check(context.Background())

	assert.Empty(t, stats.statuses())
	assert.False(t, svc.checking.Load())
}

func TestRunStopsOnContextAndClosesSource(t *testing.T) {
	src := newFakeSource()
	svc := NewService(src, &fakeProcessor{stats: &fakeStats{}}, nil, Options{Interval: 5 * time.Millisecond}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		fetches, _, _ := src.snapshot()
		return fetches >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	_, _, closed := src.snapshot()
	assert.True(t, closed)
}

func TestRunReturnsWhenSourceGivesUp(t *testing.T) {
	src := newFakeSource()
	svc := NewService(src, &fakeProcessor{stats: &fakeStats{}}, nil, Options{Interval: time.Hour}, logging.Discard())
	giveUp := errors.New("reconnect attempts exhausted")
	src.fatal <- giveUp

	err := svc.Run(context.Background())
	require.ErrorIs(t, err, giveUp)
}

func TestRunFailsWhenSourceCannotStart(t *testing.T) {
	src := newFakeSource()
	src.startErr = errors.New("imap authentication failed")
	svc := NewService(src, &fakeProcessor{stats: &fakeStats{}}, nil, Options{}, logging.Discard())

	err := svc.Run(context.Background())
	require.Error(t, err)
	_, _, closed := src.snapshot()
	assert.False(t, closed)
}

func TestReconnectTriggersImmediateCheck(t *testing.T) {
	src := newFakeSource()
	svc := NewService(src, &fakeProcessor{stats: &fakeStats{}}, nil, Options{Interval: time.Hour}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		fetches, _, _ := src.snapshot()
		return fetches == 1
	}, time.Second, 5*time.Millisecond)

	src.mu.Lock()
	wake := src.reconnect
	src.mu.Unlock()
	require.NotNil(t, wake)
	wake()

	require.Eventually(t, func() bool {
		fetches, _, _ := src.snapshot()
		return fetches == 2
	}, time.Second, 5*time.Millisecond)
}

// slowModel answers after a delay unless its ctx ends first.
type slowModel struct {
	delay time.Duration
	reply string
}

func (m slowModel) Complete(ctx context.Context, _ string) (string, error) {
	select {
	case <-time.After(m.delay):
		return m.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type noMatch struct{}

func (noMatch) MatchLaptops(context.Context, internal.LaptopOffer) (internal.BatchMatchResult, error) {
	return internal.BatchMatchResult{}, nil
}

func (noMatch) MatchMonitors(context.Context, internal.MonitorOffer) (internal.BatchMatchResult, error) {
	return internal.BatchMatchResult{}, nil
}

func (noMatch) MatchDesktops(context.Context, internal.DesktopOffer) (internal.BatchMatchResult, error) {
	return internal.BatchMatchResult{}, nil
}

func TestShutdownLetsInFlightMessageFinish(t *testing.T) {
	src := newFakeSource(msgs("Dell Latitude 7430 x20 oferta laptop cena"))
	stats := &fakeStats{}
	model := slowModel{delay: 100 * time.Millisecond, reply: `{"isOffer":false,"confidence":5}`}
	proc := pipeline.NewProcessor(ai.NewService(model, 0, logging.Discard()), noMatch{}, stats, nil, logging.Discard())
	svc := NewService(src, proc, stats, Options{ProcessTimeout: 2 * time.Second}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	svc.Check(ctx)

	stats.mu.Lock()
	recs := append([]internal.StatRecord(nil), stats.recs...)
	stats.mu.Unlock()
	require.Len(t, recs, 2)
	assert.Equal(t, internal.StatProcessed, recs[0].Status)
	assert.Equal(t, internal.StatRejected, recs[1].Status)
	assert.Equal(t, "not an offer (confidence 5%)", recs[1].Reason, "model reply, not the keyword scorer")
	_, seen, _ := src.snapshot()
	assert.Len(t, seen, 1)
}

type abortingProcessor struct{}

func (abortingProcessor) Process(_ context.Context, _ internal.MailMessage, _ *pipeline.Claim) (pipeline.Outcome, error) {
	return pipeline.Outcome{}, fmt.Errorf("pipeline.Process: classify: %w", context.Canceled)
}

func TestAbortedMessageStaysUnseen(t *testing.T) {
	src := newFakeSource(msgs("a"))
	stats := &fakeStats{}
	svc := NewService(src, abortingProcessor{}, stats, Options{}, logging.Discard())

	svc.Check(context.Background())

	assert.Equal(t, []string{"a:processed"}, stats.statuses())
	_, seen, _ := src.snapshot()
	assert.Empty(t, seen)
}
