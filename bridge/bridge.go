// Package bridge is the boundary a host application drives: it validates
// connect and send requests, decodes textual payloads, keeps the registry of
// live sessions and turns session callbacks into tagged events for the
// registered listeners.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/go-tlsbridge/idgen"
	"github.com/cyberinferno/go-tlsbridge/logger"
	"github.com/cyberinferno/go-tlsbridge/registry"
	"github.com/cyberinferno/go-tlsbridge/tlssession"
)

var (
	// ErrMissingParam reports an absent required argument.
	ErrMissingParam = errors.New("missing parameter")
	// ErrInvalidParam reports an argument that is present but unusable.
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrNetworkUnavailable is returned by BindToNetwork when there is no
	// network to bind to.
	ErrNetworkUnavailable = errors.New("network unavailable")

	ErrIDInUse          = registry.ErrIDInUse
	ErrNoSuchConnection = registry.ErrNoSuchConnection
)

// ConnectOptions are the arguments of Connect. Host and Port are required.
type ConnectOptions struct {
	// ID names the connection; empty generates a UUID.
	ID   string
	Host string
	Port int
	// Insecure accepts any server certificate.
	Insecure bool
	// SNI overrides the server name sent and verified; empty means Host.
	SNI string
	// Timeout bounds connect plus handshake; zero means the bridge default.
	Timeout time.Duration
	// ALPNProtocols are offered in order.
	ALPNProtocols []string
}

// SessionDefaults are applied to every session the bridge creates.
type SessionDefaults struct {
	ConnectTimeout time.Duration
	ReadBufferSize int
	MinVersion     uint16
	KeepAlive      net.KeepAliveConfig
}

// DefaultSessionDefaults mirrors tlssession.DefaultConfig.
func DefaultSessionDefaults() SessionDefaults {
	d := tlssession.DefaultConfig("", "", 0)
	return SessionDefaults{
		ConnectTimeout: d.ConnectTimeout,
		ReadBufferSize: d.ReadBufferSize,
		MinVersion:     d.MinVersion,
		KeepAlive:      d.KeepAlive,
	}
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge and session logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithDialer routes every TCP connect through d, e.g. a resolver.Dialer.
func WithDialer(d tlssession.Dialer) Option {
	return func(b *Bridge) {
		b.dialer = d
	}
}

// WithIDGenerator replaces the UUID generator for connections without an id.
func WithIDGenerator(g idgen.Generator) Option {
	return func(b *Bridge) {
		b.ids = g
	}
}

// WithNetworkBinder installs the collaborator behind BindToNetwork and
// UnbindNetwork.
func WithNetworkBinder(nb NetworkBinder) Option {
	return func(b *Bridge) {
		b.binder = nb
	}
}

// WithSessionDefaults replaces DefaultSessionDefaults.
func WithSessionDefaults(d SessionDefaults) Option {
	return func(b *Bridge) {
		b.defaults = d
	}
}

// Bridge exposes connect, send and disconnect over a registry of sessions.
// All methods are safe for concurrent use and return without waiting on the
// network; outcomes arrive as events.
type Bridge struct {
	log      logger.Logger
	dialer   tlssession.Dialer
	ids      idgen.Generator
	binder   NetworkBinder
	defaults SessionDefaults
	hub      *listeners
	now      func() time.Time
	reg      *registry.Registry
}

// New creates a Bridge with no live connections and no listeners.
//
// Parameters:
//   - opts: Optional logger, dialer, id generator, network binder and session defaults
//
// Returns:
//   - A new *Bridge
func New(opts ...Option) *Bridge {
	b := &Bridge{
		log:      logger.Nop(),
		defaults: DefaultSessionDefaults(),
		hub:      newListeners(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	regOpts := []registry.Option{registry.WithLogger(b.log), registry.WithIDGenerator(b.ids)}
	if b.dialer != nil {
		regOpts = append(regOpts, registry.WithSessionOptions(tlssession.WithDialer(b.dialer)))
	}
	b.reg = registry.New(regOpts...)

	return b
}

// Connect starts a new TLS connection and returns its id at once. The
// connect event, or an error and close event, follows asynchronously.
//
// Parameters:
//   - opts: Endpoint, trust and timing arguments
//
// Returns:
//   - The connection id
//   - ErrMissingParam, ErrInvalidParam or ErrIDInUse
func (b *Bridge) Connect(opts ConnectOptions) (string, error) {
	if opts.Host == "" || opts.Port == 0 {
		return "", fmt.Errorf("%w: 'host' and 'port' are required", ErrMissingParam)
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return "", fmt.Errorf("%w: port %d out of range", ErrInvalidParam, opts.Port)
	}
	if opts.Timeout < 0 {
		return "", fmt.Errorf("%w: negative timeout", ErrInvalidParam)
	}

	cfg := tlssession.Config{
		ID:             opts.ID,
		Host:           opts.Host,
		Port:           opts.Port,
		ServerName:     opts.SNI,
		ALPNProtocols:  opts.ALPNProtocols,
		Insecure:       opts.Insecure,
		ConnectTimeout: b.defaults.ConnectTimeout,
		ReadBufferSize: b.defaults.ReadBufferSize,
		MinVersion:     b.defaults.MinVersion,
		KeepAlive:      b.defaults.KeepAlive,
	}
	if opts.Timeout > 0 {
		cfg.ConnectTimeout = opts.Timeout
	}

	s, err := b.reg.Create(cfg, newSink(b.hub, b.now))
	if err != nil {
		if errors.Is(err, registry.ErrIDInUse) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidParam, err)
	}

	b.log.Info("connection requested",
		logger.Field{Key: "conn_id", Value: s.ID()},
		logger.Field{Key: "address", Value: cfg.Address()},
		logger.Field{Key: "insecure", Value: opts.Insecure},
	)
	return s.ID(), nil
}

// Send decodes data and queues it on connection id.
//
// Parameters:
//   - id: Connection id
//   - data: Encoded payload
//   - enc: Encoding of data; empty or unknown means base64
//
// Returns:
//   - ErrMissingParam, ErrInvalidParam or ErrNoSuchConnection
func (b *Bridge) Send(id, data string, enc Encoding) error {
	if id == "" || data == "" {
		return fmt.Errorf("%w: 'id' and 'data' are required", ErrMissingParam)
	}

	s, ok := b.reg.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchConnection, id)
	}

	payload, err := DecodePayload(data, enc)
	if err != nil {
		return err
	}

	if err := s.Send(payload); err != nil {
		if errors.Is(err, tlssession.ErrClosed) {
			return fmt.Errorf("%w: %s", ErrNoSuchConnection, id)
		}
		return err
	}

	return nil
}

// Disconnect closes connection id. Unknown ids are ignored.
//
// Returns:
//   - ErrMissingParam if id is empty
func (b *Bridge) Disconnect(id string) error {
	if id == "" {
		return fmt.Errorf("%w: 'id' is required", ErrMissingParam)
	}

	if _, ok := b.reg.Remove(id); ok {
		b.log.Info("connection closed by caller", logger.Field{Key: "conn_id", Value: id})
	}
	return nil
}

// DisconnectAll closes every live connection and waits, bounded by ctx, for
// their close events.
func (b *Bridge) DisconnectAll(ctx context.Context) error {
	n := b.reg.Len()
	if err := b.reg.CloseAll(ctx); err != nil {
		return err
	}

	if n > 0 {
		b.log.Info("all connections closed", logger.Field{Key: "count", Value: n})
	}
	return nil
}

// Connections returns the ids of the live connections.
func (b *Bridge) Connections() []string {
	return b.reg.IDs()
}

// State reports the lifecycle state of connection id. The boolean is false
// once id is unregistered or its session has turned Closed.
func (b *Bridge) State(id string) (tlssession.State, bool) {
	s, ok := b.reg.Get(id)
	if !ok {
		return tlssession.Closed, false
	}
	st := s.State()
	return st, st != tlssession.Closed
}

// AddListener subscribes fn to events of the given type.
//
// Parameters:
//   - event: One of EventTypes
//   - fn: Handler; it may call back into the bridge
//
// Returns:
//   - A handle whose Remove unsubscribes fn
//   - ErrInvalidParam for an unknown event, ErrMissingParam for a nil fn
func (b *Bridge) AddListener(event EventType, fn ListenerFunc) (*Listener, error) {
	return b.hub.add(event, fn)
}

// RemoveAllListeners drops every subscription.
func (b *Bridge) RemoveAllListeners() {
	b.hub.clear()
}

// Close disconnects everything, then drops the listeners.
func (b *Bridge) Close(ctx context.Context) error {
	err := b.DisconnectAll(ctx)
	b.RemoveAllListeners()
	return err
}
