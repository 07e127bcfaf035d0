package imap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultReconnectBase        = 5 * time.Second
	DefaultReconnectMaxAttempts = 10
	maxDelayMultiplier          = 5
)

// Reconnector is what the manager drives; *Connection implements it.
type Reconnector interface {
	Connect(ctx context.Context) error
	ShuttingDown() bool
}

type ReconnectOptions struct {
	Base              time.Duration
	MaxAttempts       int
	StopOnAuthFailure bool
}

// ReconnectManager re-dials after an unsolicited disconnect with a linear
// backoff capped at five times the base delay.
type ReconnectManager struct {
	conn Reconnector
	opts ReconnectOptions
	log  *slog.Logger

	mu            sync.Mutex
	ctx           context.Context
	attempts      int
	timer         *time.Timer
	stopped       bool
	gaveUp        bool
	onReconnected func()
	fatal         chan error
}

func NewReconnectManager(conn Reconnector, opts ReconnectOptions, log *slog.Logger) *ReconnectManager {
	if opts.Base <= 0 {
		opts.Base = DefaultReconnectBase
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultReconnectMaxAttempts
	}
	return &ReconnectManager{
		conn:  conn,
		opts:  opts,
		log:   log,
		ctx:   context.Background(),
		fatal: make(chan error, 1),
	}
}

// OnReconnected registers a callback run after every successful re-dial.
func (m *ReconnectManager) OnReconnected(fn func()) {
	m.mu.Lock()
	m.onReconnected = fn
	m.mu.Unlock()
}

// Fatal receives one error once the manager gives up.
func (m *ReconnectManager) Fatal() <-chan error { return m.fatal }

func (m *ReconnectManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *ReconnectManager) GaveUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gaveUp
}

// Watch schedules a reconnect for every Connected -> Disconnected event that
// is not part of a shutdown. It returns when ctx ends.
func (m *ReconnectManager) Watch(ctx context.Context, events <-chan StateEvent) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case ev := <-events:
			if ev.From == Connected && ev.To == Disconnected && !m.conn.ShuttingDown() {
				m.Schedule()
			}
		}
	}
}

// Schedule arms one reconnect attempt. It is a no-op while an attempt is
// pending, after Stop, or once the manager gave up.
func (m *ReconnectManager) Schedule() {
	const opn = "imap.ReconnectManager.Schedule"

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil || m.stopped || m.gaveUp {
		return
	}
	if m.attempts >= m.opts.MaxAttempts {
		m.giveUpLocked(fmt.Errorf("%s: %d reconnect attempts failed", opn, m.attempts))
		return
	}
	m.attempts++
	delay := m.opts.Base * time.Duration(min(m.attempts, maxDelayMultiplier))
	m.log.Warn("reconnecting to mail server",
		slog.String("op", opn),
		slog.Duration("delay", delay),
		slog.Int("attempt", m.attempts),
		slog.Int("max_attempts", m.opts.MaxAttempts),
	)
	m.timer = time.AfterFunc(delay, m.attempt)
}

func (m *ReconnectManager) attempt() {
	const opn = "imap.ReconnectManager.attempt"

	m.mu.Lock()
	m.timer = nil
	if m.stopped {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	err := m.conn.Connect(ctx)
	if err != nil {
		if errors.Is(err, ErrShuttingDown) {
			return
		}
		m.log.Error("reconnect failed", slog.String("op", opn), slog.Any("error", err))
		if m.opts.StopOnAuthFailure && IsAuthError(err) {
			m.mu.Lock()
			m.giveUpLocked(err)
			m.mu.Unlock()
			return
		}
		m.Schedule()
		return
	}

	m.mu.Lock()
	m.attempts = 0
	cb := m.onReconnected
	m.mu.Unlock()

	m.log.Info("reconnected to mail server", slog.String("op", opn))
	if cb != nil {
		cb()
	}
}

func (m *ReconnectManager) giveUpLocked(err error) {
	if m.gaveUp {
		return
	}
	m.gaveUp = true
	m.log.Error("giving up on mail server", slog.Int("attempts", m.attempts), slog.Any("error", err))
	select {
	case m.fatal <- err:
	default:
	}
}

// Stop cancels a pending attempt and blocks future ones.
func (m *ReconnectManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
