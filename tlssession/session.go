// Package tlssession implements a single TLS client connection that is
// driven asynchronously: it connects, handshakes, streams received bytes and
// writes queued buffers in its own goroutines, and reports every outcome
// through an EventSink. A session is single-use; once Closed it stays closed.
package tlssession

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-tlsbridge/internal/fifo"
	"github.com/cyberinferno/go-tlsbridge/internal/sockopt"
	"github.com/cyberinferno/go-tlsbridge/logger"
	"github.com/cyberinferno/go-tlsbridge/perfmonitor"
	"github.com/cyberinferno/go-tlsbridge/trustpolicy"
)

// State is a session's lifecycle phase.
type State int

const (
	Connecting  State = iota // TCP dial in progress
	Handshaking              // TLS handshake in progress
	Open                     // Duplex stream active
	Closed                   // Terminal; resources released
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Failure kinds carried by the close reason. Test with errors.Is.
var (
	ErrConnect     = errors.New("connect error")
	ErrHandshake   = errors.New("handshake error")
	ErrCertificate = trustpolicy.ErrCertificate
	ErrRead        = errors.New("read error")
	ErrWrite       = errors.New("write error")
	ErrClosed      = errors.New("session closed")
)

// Dialer opens the raw TCP connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option customizes a Session at construction.
type Option func(*Session)

// WithLogger sets the parent logger; the session derives one carrying its id.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDialer replaces the default keepalive-enabled *net.Dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithCloseHook registers fn to run once when the session starts closing,
// before its state turns Closed and before the terminal events are queued.
// fn may call the session's methods.
func WithCloseHook(fn func(*Session)) Option {
	return func(s *Session) {
		s.onClosed = fn
	}
}

// Session is one TLS client connection. Its exported methods are safe for
// concurrent use and never block on network I/O.
type Session struct {
	cfg      Config
	policy   trustpolicy.Policy
	sink     EventSink
	dialer   Dialer
	log      logger.Logger
	onClosed func(*Session)
	timer    *perfmonitor.PerformanceMonitor
	closing  atomic.Bool

	mu      sync.Mutex
	state   State
	started bool
	raw     net.Conn
	conn    *tls.Conn
	cancel  context.CancelFunc
	info    Info
	err     error

	writes *fifo.Queue[[]byte]
	events *fifo.Queue[event]
	done   chan struct{}
}

// New validates cfg and returns a session in the Connecting state. Nothing
// touches the network until Start.
//
// Parameters:
//   - cfg: Endpoint, trust and timing parameters
//   - sink: Receiver of lifecycle events; nil discards them
//   - opts: Optional logger, dialer and close hook
//
// Returns:
//   - The new *Session, or an error if cfg is invalid
func New(cfg Config, sink EventSink, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if sink == nil {
		sink = NopSink{}
	}

	s := &Session{
		cfg:    cfg,
		policy: cfg.policy(),
		sink:   sink,
		log:    logger.Nop(),
		timer:  perfmonitor.NewPerformanceMonitor(),
		state:  Connecting,
		writes: fifo.New[[]byte](),
		events: fifo.New[event](),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.dialer == nil {
		s.dialer = &net.Dialer{KeepAliveConfig: cfg.KeepAlive, Control: sockopt.Control}
	}

	s.log = s.log.With(
		logger.Field{Key: "conn_id", Value: cfg.ID},
		logger.Field{Key: "host", Value: cfg.Host},
		logger.Field{Key: "port", Value: cfg.Port},
	)

	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.ID }

// Config returns a copy of the session's configuration.
func (s *Session) Config() Config { return s.cfg }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the handshake details; zero until the session is Open.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Err returns the close reason once Closed; nil for clean or explicit closes.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed after the terminal OnClose call has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start begins connect and handshake in the background and returns
// immediately.
//
// Returns:
//   - An error if the session was already started or closed
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started", s.cfg.ID)
	}

	s.started = true
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	s.cancel = cancel
	s.mu.Unlock()

	go s.dispatch()
	go s.run(ctx)
	return nil
}

// Send queues data for writing. Buffers are written whole, one at a time,
// in the order Send was called; sends issued before the handshake finishes
// are flushed once the session is Open. data is copied.
//
// Parameters:
//   - data: Bytes to send
//
// Returns:
//   - ErrClosed if the session is Closed, nil otherwise
func (s *Session) Send(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	buf := bytes.Clone(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return ErrClosed
	}

	s.writes.Push(buf)
	return nil
}

// Close tears the session down from any state, interrupting a blocked dial,
// handshake, read or write. The sink receives a single OnClose with a nil
// reason. Closing a Closed session is a no-op.
//
// Returns:
//   - Errors from releasing the connection, if any
func (s *Session) Close() error {
	return s.shutdown(nil, "")
}

func (s *Session) run(ctx context.Context) {
	s.timer.Start()
	s.log.Debug("dialing", logger.Field{Key: "policy", Value: s.policy.Name()})

	raw, err := s.dialer.DialContext(ctx, "tcp", s.cfg.Address())
	if err != nil {
		s.fail(s.connectFailure(ctx, ErrConnect, err))
		return
	}

	conn := tls.Client(raw, trustpolicy.TLSConfig(s.policy, trustpolicy.ClientConfig{
		ServerName: s.cfg.serverName(),
		NextProtos: s.cfg.ALPNProtocols,
		MinVersion: s.cfg.MinVersion,
	}))

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		_ = raw.Close()
		return
	}
	s.raw = raw
	s.conn = conn
	s.state = Handshaking
	s.mu.Unlock()

	s.log.Debug("handshaking", logger.Field{Key: "server_name", Value: s.cfg.serverName()})
	if err := conn.HandshakeContext(ctx); err != nil {
		kind := ErrHandshake
		if errors.Is(err, trustpolicy.ErrCertificate) {
			kind = nil
		}
		s.fail(s.connectFailure(ctx, kind, err))
		return
	}

	s.timer.Stop()
	cs := conn.ConnectionState()
	info := Info{
		ServerName:         s.cfg.serverName(),
		NegotiatedProtocol: cs.NegotiatedProtocol,
		Version:            cs.Version,
		CipherSuite:        cs.CipherSuite,
		ConnectDuration:    s.timer.Elapsed(),
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Open
	s.info = info
	cancel := s.cancel
	s.events.Push(event{kind: eventReady, info: info})
	s.mu.Unlock()

	// The handshake is done; the deadline no longer applies.
	cancel()

	s.log.Info("session ready",
		logger.Field{Key: "alpn", Value: info.NegotiatedProtocol},
		logger.Field{Key: "version", Value: info.VersionName()},
		logger.Field{Key: "connect_ms", Value: s.timer.ElapsedMilliseconds()},
	)

	go s.writeLoop(conn)
	s.readLoop(conn)
}

type failure struct {
	reason  error
	message string
}

// connectFailure builds the close reason and diagnostic for a failed dial or
// handshake. A nil kind keeps err's own classification; a timeout is always
// reported as ErrConnect.
func (s *Session) connectFailure(ctx context.Context, kind error, err error) failure {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", s.cfg.ConnectTimeout, err)
		kind = ErrConnect
	}

	reason := err
	if kind != nil {
		reason = fmt.Errorf("%w: %w", kind, err)
	}

	return failure{reason: reason, message: "TLS connect error: " + err.Error()}
}

func (s *Session) fail(f failure) {
	s.shutdown(f.reason, f.message)
}

func (s *Session) readLoop(conn *tls.Conn) {
	buf := make([]byte, s.cfg.ReadBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.events.Push(event{kind: eventData, data: bytes.Clone(buf[:n])})
		}

		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			s.shutdown(nil, "")
		case errors.Is(err, io.ErrUnexpectedEOF):
			s.log.Debug("peer closed without close_notify")
			s.shutdown(nil, "")
		default:
			s.shutdown(fmt.Errorf("%w: %w", ErrRead, err), "Read error: "+err.Error())
		}

		return
	}
}

func (s *Session) writeLoop(conn *tls.Conn) {
	for {
		buf, ok := s.writes.Pop()
		if !ok {
			return
		}

		if _, err := conn.Write(buf); err != nil {
			s.shutdown(fmt.Errorf("%w: %w", ErrWrite, err), "Write error: "+err.Error())
			return
		}
	}
}

// shutdown moves the session to Closed exactly once: it runs the close hook,
// cancels any pending connect, drops unsent buffers, releases the connection
// and queues the terminal events. Later calls return nil immediately.
func (s *Session) shutdown(reason error, message string) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	// Whoever observes Closed must no longer find the session registered.
	if s.onClosed != nil {
		s.onClosed(s)
	}

	s.mu.Lock()

	prev := s.state
	s.state = Closed
	s.err = reason
	conn, raw, cancel := s.conn, s.raw, s.cancel
	s.conn, s.raw = nil, nil
	needDispatch := !s.started
	s.started = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	dropped := s.writes.Discard()
	releaseErr := release(conn, raw)
	if releaseErr != nil {
		s.log.Debug("connection release reported errors", logger.Err(releaseErr))
	}

	terminal := make([]event, 0, 2)
	if message != "" {
		terminal = append(terminal, event{kind: eventError, message: message})
	}
	terminal = append(terminal, event{kind: eventClose, reason: reason})
	s.events.PushAndSeal(terminal...)

	if needDispatch {
		go s.dispatch()
	}

	fields := []logger.Field{
		{Key: "from", Value: prev.String()},
		{Key: "dropped_writes", Value: dropped},
	}
	if reason != nil {
		s.log.Warn("session failed", append(fields, logger.Err(reason))...)
	} else {
		s.log.Debug("session closed", fields...)
	}

	return releaseErr
}

// release closes the TLS layer and the raw socket independently, so a
// failure on one never skips the other. Already-closed errors are ignored.
func release(conn *tls.Conn, raw net.Conn) error {
	var errs []error
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close tls: %w", err))
		}
	}
	if raw != nil {
		if err := raw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close socket: %w", err))
		}
	}

	return errors.Join(errs...)
}
