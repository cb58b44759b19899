package tlssession

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cyberinferno/go-tlsbridge/trustpolicy"
)

const (
	// DefaultConnectTimeout bounds dial plus handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultReadBufferSize is the largest chunk a single data event carries.
	DefaultReadBufferSize = 64 * 1024
)

// DefaultKeepAlive probes an idle connection after 10s, every 3s, giving up
// after 3 unanswered probes.
var DefaultKeepAlive = net.KeepAliveConfig{
	Enable:   true,
	Idle:     10 * time.Second,
	Interval: 3 * time.Second,
	Count:    3,
}

// Config holds the immutable parameters of one session.
type Config struct {
	// ID identifies the session in events and in the registry.
	ID string
	// Host and Port address the remote endpoint.
	Host string
	Port int
	// ServerName is the SNI value and the name verified against the peer
	// certificate; empty means Host.
	ServerName string
	// ALPNProtocols are offered in order during the handshake; may be empty.
	ALPNProtocols []string
	// Insecure selects trustpolicy.AcceptAll instead of trustpolicy.Verify.
	Insecure bool
	// Policy overrides the policy chosen by Insecure when non-nil.
	Policy trustpolicy.Policy
	// ConnectTimeout bounds the dial and the handshake together.
	ConnectTimeout time.Duration
	// ReadBufferSize is the receive chunk size.
	ReadBufferSize int
	// MinVersion is the lowest TLS version accepted; 0 means TLS 1.2.
	MinVersion uint16
	// KeepAlive configures TCP keepalive probes on the socket.
	KeepAlive net.KeepAliveConfig
}

// DefaultConfig returns a Config for host:port with the default timeout,
// buffer size, TLS 1.2 floor and keepalive settings. Verification is on.
//
// Parameters:
//   - id: The session id
//   - host: Remote host name or IP literal; also the SNI value
//   - port: Remote TCP port
//
// Returns:
//   - A Config with defaults; override fields before passing to New
func DefaultConfig(id, host string, port int) Config {
	return Config{
		ID:             id,
		Host:           host,
		Port:           port,
		ServerName:     host,
		ConnectTimeout: DefaultConnectTimeout,
		ReadBufferSize: DefaultReadBufferSize,
		MinVersion:     tls.VersionTLS12,
		KeepAlive:      DefaultKeepAlive,
	}
}

// Validate reports the first missing or out-of-range field.
func (c Config) Validate() error {
	var errs []error
	if c.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("read buffer size must be positive"))
	}

	return errors.Join(errs...)
}

// Address returns the "host:port" dial address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) serverName() string {
	if c.ServerName != "" {
		return c.ServerName
	}

	return c.Host
}

func (c Config) policy() trustpolicy.Policy {
	if c.Policy != nil {
		return c.Policy
	}

	return trustpolicy.For(c.Insecure)
}
