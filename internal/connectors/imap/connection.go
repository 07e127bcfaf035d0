package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StateEvent is published on every transition.
type StateEvent struct {
	From State
	To   State
	Err  error
	At   time.Time
}

// Session is the part of a go-imap client the package uses.
type Session interface {
	Login(username, password string) error
	Logout() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	LoggedOut() <-chan struct{}
}

type Dialer func(ctx context.Context) (Session, error)

type Options struct {
	Host     string
	Port     int
	TLS      bool
	User     string
	Password string
}

// NetDialer dials a real server, over TLS when opts.TLS is set.
func NetDialer(opts Options) Dialer {
	return func(ctx context.Context) (Session, error) {
		addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
		d := &net.Dialer{Timeout: 30 * time.Second}
		if deadline, ok := ctx.Deadline(); ok {
			d.Deadline = deadline
		}
		var (
			cl  *imapclient.Client
			err error
		)
		if opts.TLS {
			cl, err = imapclient.DialWithDialerTLS(d, addr, &tls.Config{ServerName: opts.Host})
		} else {
			cl, err = imapclient.DialWithDialer(d, addr)
		}
		if err != nil {
			return nil, err
		}
		return cl, nil
	}
}

// Connection owns the live session and its state machine. All state changes
// go through setState.
type Connection struct {
	opts Options
	dial Dialer
	log  *slog.Logger
	now  func() time.Time

	mu           sync.Mutex
	state        State
	session      Session
	shuttingDown bool
	subs         []chan StateEvent
}

func NewConnection(opts Options, dial Dialer, log *slog.Logger) *Connection {
	if dial == nil {
		dial = NetDialer(opts)
	}
	return &Connection{opts: opts, dial: dial, log: log, now: time.Now}
}

// Subscribe returns a channel of state events. Slow readers lose events.
func (c *Connection) Subscribe() <-chan StateEvent {
	ch := make(chan StateEvent, 16)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) ShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shuttingDown
}

// Session returns the live session while connected.
func (c *Connection) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.session == nil {
		return nil, false
	}
	return c.session, true
}

// setState must be called with c.mu held.
func (c *Connection) setState(to State, err error) {
	from := c.state
	if from == to && err == nil {
		return
	}
	c.state = to
	ev := StateEvent{From: from, To: to, Err: err, At: c.now()}
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Connection) Connect(ctx context.Context) error {
	const opn = "imap.Connection.Connect"
	log := c.log.With(slog.String("op", opn), slog.String("host", c.opts.Host), slog.Int("port", c.opts.Port))

	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return ErrShuttingDown
	}
	if c.state == Connected && c.session != nil {
		c.mu.Unlock()
		return nil
	}
	if c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("%s: connect already in progress", opn)
	}
	c.setState(Connecting, nil)
	c.mu.Unlock()

	log.Info("connecting to mail server", slog.Bool("tls", c.opts.TLS))

	sess, err := c.dial(ctx)
	if err == nil {
		if lerr := sess.Login(c.opts.User, c.opts.Password); lerr != nil {
			_ = sess.Logout()
			err = lerr
		}
	}
	if err != nil {
		typed := Classify(err)
		c.mu.Lock()
		c.setState(Disconnected, typed)
		c.mu.Unlock()
		if IsAuthError(typed) {
			log.Error("mailbox login rejected, check EMAIL_USER and EMAIL_PASSWORD (app password when 2FA is on)", slog.Any("error", typed))
		} else {
			log.Error("mail server unreachable", slog.Any("error", typed))
		}
		return fmt.Errorf("%s: %w", opn, typed)
	}

	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		_ = sess.Logout()
		return ErrShuttingDown
	}
	c.session = sess
	c.setState(Connected, nil)
	c.mu.Unlock()

	log.Info("mail server connected")
	go c.watch(sess)
	return nil
}

// watch turns an unsolicited logout into a Disconnected transition.
func (c *Connection) watch(sess Session) {
	<-sess.LoggedOut()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess || c.shuttingDown {
		return
	}
	c.session = nil
	c.setState(Disconnected, ErrNotConnected)
	c.log.Warn("mail server connection ended", slog.String("op", "imap.Connection.watch"))
}

// Disconnect logs out and keeps the connection down. Safe to call twice.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.shuttingDown = true
	sess := c.session
	c.session = nil
	c.setState(Disconnected, nil)
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.Logout(); err != nil {
		return fmt.Errorf("imap.Connection.Disconnect: %w", err)
	}
	c.log.Info("mail server disconnected")
	return nil
}

// Drop abandons a session that stopped answering. The Disconnected event it
// emits is what triggers a reconnect.
func (c *Connection) Drop(cause error) {
	c.mu.Lock()
	if c.state != Connected || c.session == nil {
		c.mu.Unlock()
		return
	}
	sess := c.session
	c.session = nil
	c.setState(Disconnected, cause)
	c.mu.Unlock()

	c.log.Warn("dropping mail server session", slog.Any("error", cause))
	go func() { _ = sess.Logout() }()
}
