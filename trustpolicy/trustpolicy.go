// Package trustpolicy decides whether a TLS peer's certificate chain is
// accepted during the handshake. Two policies exist: Verify, which performs
// standard chain validation plus hostname verification, and AcceptAll, an
// explicit opt-out for self-signed or provisioning endpoints.
package trustpolicy

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// ErrCertificate reports that the peer's certificate chain was rejected.
var ErrCertificate = errors.New("certificate error")

// Policy validates a peer certificate chain.
type Policy interface {
	// Name identifies the policy in logs ("verify", "accept-all").
	Name() string

	// VerifyChain accepts or rejects chain, leaf first, as presented by the
	// peer for serverName. A rejection wraps ErrCertificate.
	VerifyChain(chain []*x509.Certificate, serverName string) error
}

// Verify validates the chain against a root pool and checks that the leaf
// covers the server name.
type Verify struct {
	// Roots is the trust anchor pool; nil means the system pool.
	Roots *x509.CertPool
	// Now overrides the validation time; nil means time.Now.
	Now func() time.Time
}

// Name implements Policy.
func (Verify) Name() string { return "verify" }

// VerifyChain implements Policy.
func (v Verify) VerifyChain(chain []*x509.Certificate, serverName string) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: peer presented no certificates", ErrCertificate)
	}

	opts := x509.VerifyOptions{
		Roots:         v.Roots,
		DNSName:       serverName,
		Intermediates: x509.NewCertPool(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if v.Now != nil {
		opts.CurrentTime = v.Now()
	}

	for _, c := range chain[1:] {
		opts.Intermediates.AddCert(c)
	}

	if _, err := chain[0].Verify(opts); err != nil {
		return fmt.Errorf("%w: %w", ErrCertificate, err)
	}

	return nil
}

// AcceptAll accepts every chain and skips hostname verification.
type AcceptAll struct{}

// Name implements Policy.
func (AcceptAll) Name() string { return "accept-all" }

// VerifyChain implements Policy.
func (AcceptAll) VerifyChain([]*x509.Certificate, string) error { return nil }

// For returns AcceptAll when insecure is set and a system-rooted Verify
// otherwise.
func For(insecure bool) Policy {
	if insecure {
		return AcceptAll{}
	}

	return Verify{}
}

// ClientConfig describes the handshake parameters of one client connection.
type ClientConfig struct {
	// ServerName is sent as SNI and used for hostname verification. Go omits
	// the SNI extension for IP literals; verification still applies.
	ServerName string
	// NextProtos are the ALPN identifiers offered, in preference order.
	NextProtos []string
	// MinVersion is the lowest accepted TLS version; 0 means TLS 1.2.
	MinVersion uint16
}

// TLSConfig builds a *tls.Config whose certificate decisions are delegated
// to p. crypto/tls' built-in verification is switched off and replaced by a
// VerifyConnection hook, so both policies flow through the same path and
// every rejection carries ErrCertificate.
//
// Parameters:
//   - p: The trust policy; nil means Verify with system roots
//   - cc: Server name, ALPN offer and minimum version
//
// Returns:
//   - A new *tls.Config, not shared with any other connection
func TLSConfig(p Policy, cc ClientConfig) *tls.Config {
	if p == nil {
		p = Verify{}
	}

	minVersion := cc.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	var protos []string
	if len(cc.NextProtos) > 0 {
		protos = append(protos, cc.NextProtos...)
	}

	serverName := cc.ServerName
	return &tls.Config{
		ServerName:         serverName,
		NextProtos:         protos,
		MinVersion:         minVersion,
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			return p.VerifyChain(cs.PeerCertificates, serverName)
		},
	}
}
