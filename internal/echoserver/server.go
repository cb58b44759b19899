// Package echoserver runs a TLS server that, by default, writes every byte it
// receives back to the sender. It backs the loopback tests of the session
// packages and the "serve" command of tlsctl.
package echoserver

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-tlsbridge/idgen"
	"github.com/cyberinferno/go-tlsbridge/logger"
	"github.com/cyberinferno/go-tlsbridge/safemap"
)

// Handler serves one accepted TLS connection. The server closes conn after
// Handler returns.
type Handler func(conn *tls.Conn)

// Echo is the default Handler: it copies everything read back to the peer
// until EOF or an error.
func Echo(conn *tls.Conn) {
	_, _ = io.Copy(conn, conn)
}

// Config holds configuration for the echo server.
type Config struct {
	// Name labels log entries.
	Name string
	// Addr is the listen address; "127.0.0.1:0" picks a free loopback port.
	Addr string
	// Certificate is presented to clients.
	Certificate tls.Certificate
	// NextProtos are the ALPN protocols the server accepts, in preference order.
	NextProtos []string
	// Handler serves each connection; nil means Echo.
	Handler Handler
}

// DefaultConfig returns a loopback echo server config presenting cert.
func DefaultConfig(cert tls.Certificate) Config {
	return Config{
		Name:        "echo",
		Addr:        "127.0.0.1:0",
		Certificate: cert,
	}
}

// Server is a TLS server that accepts connections and serves each one in its
// own goroutine. Live connections are tracked by id and closed on Stop.
type Server struct {
	config   Config
	log      logger.Logger
	listener net.Listener
	sessions *safemap.SafeMap[string, *tls.Conn]
	ids      *idgen.Sequence
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a Server; call Start to begin accepting.
//
// Parameters:
//   - config: Listen address, certificate and handler
//   - log: Logger for lifecycle messages; nil means logger.Nop()
//
// Returns:
//   - A new, stopped *Server
func New(config Config, log logger.Logger) *Server {
	if config.Handler == nil {
		config.Handler = Echo
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Server{
		config:   config,
		log:      log.With(logger.Field{Key: "server", Value: config.Name}),
		sessions: safemap.NewSafeMap[string, *tls.Conn](),
		ids:      idgen.NewSequence("peer-", 0),
	}
}

// Start binds the listener and runs the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or listening fails
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server %s already running", s.config.Name)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{s.config.Certificate},
		NextProtos:   s.config.NextProtos,
		MinVersion:   tls.VersionTLS12,
	}

	ln, err := tls.Listen("tcp", s.config.Addr, tlsConfig)
	if err != nil {
		s.log.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.config.Name, err)
	}

	s.listener = ln
	s.running.Store(true)
	s.log.Info("server started", logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}

	return s.listener.Addr().String()
}

// Host returns the host part of Addr.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// SessionCount returns the number of connections currently being served.
func (s *Server) SessionCount() int {
	return s.sessions.Len()
}

// CloseSessions closes every live connection while leaving the listener up,
// which clients observe as the peer going away.
func (s *Server) CloseSessions() {
	s.sessions.Range(func(_ string, conn *tls.Conn) bool {
		_ = conn.Close()
		return true
	})
}

// Stop closes the listener and every live connection, then waits for all
// server goroutines to exit. Safe to call when not running.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	_ = s.listener.Close()
	s.CloseSessions()
	s.wg.Wait()
	s.log.Info("server stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.log.Error("accept error", logger.Err(err))
			continue
		}

		id := s.ids.NewID()
		tlsConn := conn.(*tls.Conn)
		s.sessions.Store(id, tlsConn)
		if !s.running.Load() {
			_ = tlsConn.Close()
		}

		s.wg.Add(1)
		go s.serve(id, tlsConn)
	}
}

func (s *Server) serve(id string, conn *tls.Conn) {
	defer s.wg.Done()
	defer s.sessions.Delete(id)
	defer conn.Close()

	if err := conn.Handshake(); err != nil {
		s.log.Debug("peer handshake failed", logger.Field{Key: "peer", Value: id}, logger.Err(err))
		return
	}

	s.config.Handler(conn)
}
