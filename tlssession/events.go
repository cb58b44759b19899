package tlssession

import (
	"crypto/tls"
	"time"
)

// Info describes a completed handshake.
type Info struct {
	ServerName         string
	NegotiatedProtocol string // Empty when the peer selected no ALPN protocol
	Version            uint16
	CipherSuite        uint16
	ConnectDuration    time.Duration // Dial plus handshake
}

// VersionName returns the TLS version as text, e.g. "TLS 1.3".
func (i Info) VersionName() string {
	return tls.VersionName(i.Version)
}

// CipherSuiteName returns the negotiated cipher suite's IANA name.
func (i Info) CipherSuiteName() string {
	return tls.CipherSuiteName(i.CipherSuite)
}

// EventSink receives a session's lifecycle events. For one session the
// calls arrive from a single goroutine, in order: at most one OnReady, then
// OnData in receive order, then optionally OnError, then exactly one
// OnClose, after which nothing more is delivered. Implementations may call
// back into the session or its registry.
type EventSink interface {
	// OnReady reports that the handshake completed.
	OnReady(id string, info Info)
	// OnData delivers one received chunk. The slice is owned by the sink.
	OnData(id string, data []byte)
	// OnError carries a human-readable diagnostic preceding a faulted close.
	OnError(id string, message string)
	// OnClose is the terminal event. reason is nil for a clean end of stream
	// or an explicit close.
	OnClose(id string, reason error)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) OnReady(string, Info)    {}
func (NopSink) OnData(string, []byte)   {}
func (NopSink) OnError(string, string)  {}
func (NopSink) OnClose(string, error)   {}

type eventKind int

const (
	eventReady eventKind = iota
	eventData
	eventError
	eventClose
)

type event struct {
	kind    eventKind
	info    Info
	data    []byte
	message string
	reason  error
}

// dispatch delivers queued events to the sink until the queue is sealed and
// drained, then marks the session done.
func (s *Session) dispatch() {
	defer close(s.done)

	for {
		ev, ok := s.events.Pop()
		if !ok {
			return
		}

		switch ev.kind {
		case eventReady:
			s.sink.OnReady(s.cfg.ID, ev.info)
		case eventData:
			s.sink.OnData(s.cfg.ID, ev.data)
		case eventError:
			s.sink.OnError(s.cfg.ID, ev.message)
		case eventClose:
			s.sink.OnClose(s.cfg.ID, ev.reason)
		}
	}
}
