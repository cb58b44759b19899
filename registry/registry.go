// Package registry keeps the set of live TLS sessions keyed by connection id.
// An id is registered from the moment Create accepts it until its session
// turns Closed; the session removes itself before its terminal event is
// delivered, so sinks never observe a stale entry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/cyberinferno/go-tlsbridge/idgen"
	"github.com/cyberinferno/go-tlsbridge/logger"
	"github.com/cyberinferno/go-tlsbridge/safemap"
	"github.com/cyberinferno/go-tlsbridge/tlssession"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrIDInUse is returned by Create when the id maps to a live session.
	ErrIDInUse = errors.New("connection id already in use")
	// ErrNoSuchConnection reports an operation against an unregistered id.
	ErrNoSuchConnection = errors.New("no such connection")
)

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the logger handed to every session.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithIDGenerator replaces the UUID generator used for empty ids.
func WithIDGenerator(g idgen.Generator) Option {
	return func(r *Registry) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithSessionOptions appends options applied to every session Create builds,
// e.g. tlssession.WithDialer.
func WithSessionOptions(opts ...tlssession.Option) Option {
	return func(r *Registry) {
		r.sessionOpts = append(r.sessionOpts, opts...)
	}
}

// Registry maps connection ids to live sessions. It is safe for concurrent
// use.
type Registry struct {
	sessions    *safemap.SafeMap[string, *tlssession.Session]
	ids         idgen.Generator
	log         logger.Logger
	sessionOpts []tlssession.Option
}

// New creates an empty Registry.
//
// Parameters:
//   - opts: Optional logger, id generator and per-session options
//
// Returns:
//   - A new *Registry
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: safemap.NewSafeMap[string, *tlssession.Session](),
		ids:      idgen.UUID{},
		log:      logger.Nop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Create registers a new session for cfg and starts it. When cfg.ID is empty
// a fresh id is generated. The check for an existing id and the insert are a
// single atomic step.
//
// Parameters:
//   - cfg: Session parameters
//   - sink: Receiver of the session's events
//
// Returns:
//   - The started *tlssession.Session
//   - ErrIDInUse if the id is live, or the config validation error
func (r *Registry) Create(cfg tlssession.Config, sink tlssession.EventSink) (*tlssession.Session, error) {
	if cfg.ID == "" {
		cfg.ID = r.ids.NewID()
	}

	opts := append(slices.Clone(r.sessionOpts),
		tlssession.WithLogger(r.log),
		tlssession.WithCloseHook(r.forget),
	)

	s, err := tlssession.New(cfg, sink, opts...)
	if err != nil {
		return nil, err
	}

	if _, loaded := r.sessions.LoadOrStore(cfg.ID, s); loaded {
		return nil, fmt.Errorf("%w: %s", ErrIDInUse, cfg.ID)
	}

	if err := s.Start(); err != nil {
		r.sessions.CompareAndDelete(cfg.ID, s)
		return nil, err
	}

	r.log.Debug("session registered", logger.Field{Key: "conn_id", Value: cfg.ID})
	return s, nil
}

// Get returns the live session registered under id. A session that has
// already turned Closed is never returned.
func (r *Registry) Get(id string) (*tlssession.Session, bool) {
	s, ok := r.sessions.Load(id)
	if !ok || s.State() == tlssession.Closed {
		return nil, false
	}
	return s, true
}

// Remove unregisters the session under id and closes it.
//
// Parameters:
//   - id: Connection id
//
// Returns:
//   - The removed session and true, or nil and false if id was not registered
func (r *Registry) Remove(id string) (*tlssession.Session, bool) {
	s, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return nil, false
	}

	if err := s.Close(); err != nil {
		r.log.Error("failed to release session", logger.Field{Key: "conn_id", Value: id}, logger.Err(err))
	}

	return s, true
}

// CloseAll closes every registered session concurrently and waits until each
// has delivered its terminal event or ctx is done. Sessions created while
// CloseAll runs may survive it.
//
// Parameters:
//   - ctx: Bounds the wait for terminal events
//
// Returns:
//   - The first release error, or ctx.Err() if ctx ended first
func (r *Registry) CloseAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, id := range r.sessions.Keys() {
		s, ok := r.sessions.LoadAndDelete(id)
		if !ok {
			continue
		}

		g.Go(func() error {
			err := s.Close()
			select {
			case <-s.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
			if err != nil {
				return fmt.Errorf("close %s: %w", s.ID(), err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// IDs returns the ids of the live sessions in no particular order.
func (r *Registry) IDs() []string {
	return r.sessions.Keys()
}

// forget runs as the session's close hook. It only removes the entry that
// still points at s, so a newer session reusing the id is left alone.
func (r *Registry) forget(s *tlssession.Session) {
	if r.sessions.CompareAndDelete(s.ID(), s) {
		r.log.Debug("session unregistered", logger.Field{Key: "conn_id", Value: s.ID()})
	}
}
