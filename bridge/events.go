package bridge

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cyberinferno/go-tlsbridge/tlssession"
)

// EventType names a bridge event.
type EventType string

const (
	EventConnect EventType = "connect"
	EventData    EventType = "data"
	EventError   EventType = "error"
	EventClose   EventType = "close"
)

// EventTypes lists every event a listener can subscribe to.
var EventTypes = []EventType{EventConnect, EventData, EventError, EventClose}

// Event is one notification delivered to listeners. Fields not meaningful for
// Type are zero.
type Event struct {
	Type EventType
	ID   string
	Time time.Time

	// Data and Encoding are set on data events; Data is base64 text.
	Data     string
	Encoding Encoding

	// Error is the diagnostic of an error event, or the reason of a close
	// event that ended in a fault.
	Error string

	// Connect details.
	Protocol    string
	TLSVersion  string
	CipherSuite string
	ConnectTime time.Duration
}

// Bytes decodes the payload of a data event.
func (e Event) Bytes() ([]byte, error) {
	return DecodePayload(e.Data, e.Encoding)
}

// ListenerFunc handles events. Events of one connection arrive in order from
// a single goroutine; different connections may call it concurrently.
type ListenerFunc func(Event)

// Listener is the handle returned by AddListener.
type Listener struct {
	hub   *listeners
	event EventType
	fn    ListenerFunc
}

// Remove unsubscribes the listener. Removing twice is a no-op.
func (l *Listener) Remove() {
	l.hub.remove(l)
}

type listeners struct {
	mu     sync.RWMutex
	byType map[EventType][]*Listener
}

func newListeners() *listeners {
	return &listeners{byType: make(map[EventType][]*Listener)}
}

func (h *listeners) add(event EventType, fn ListenerFunc) (*Listener, error) {
	if !slices.Contains(EventTypes, event) {
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidParam, event)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: listener function", ErrMissingParam)
	}

	l := &Listener{hub: h, event: event, fn: fn}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.byType[event] = append(h.byType[event], l)
	return l, nil
}

func (h *listeners) remove(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byType[l.event] = slices.DeleteFunc(h.byType[l.event], func(x *Listener) bool { return x == l })
}

func (h *listeners) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.byType)
}

func (h *listeners) emit(ev Event) {
	h.mu.RLock()
	subs := slices.Clone(h.byType[ev.Type])
	h.mu.RUnlock()

	for _, l := range subs {
		l.fn(ev)
	}
}

// sink adapts one session's callbacks to bridge events. A close that
// follows an error event repeats that event's message. The session calls it
// from a single goroutine, so lastError needs no lock.
type sink struct {
	hub       *listeners
	now       func() time.Time
	lastError string
}

func newSink(hub *listeners, now func() time.Time) *sink {
	return &sink{hub: hub, now: now}
}

func (s *sink) OnReady(id string, info tlssession.Info) {
	s.hub.emit(Event{
		Type:        EventConnect,
		ID:          id,
		Time:        s.now(),
		Protocol:    info.NegotiatedProtocol,
		TLSVersion:  info.VersionName(),
		CipherSuite: info.CipherSuiteName(),
		ConnectTime: info.ConnectDuration,
	})
}

func (s *sink) OnData(id string, data []byte) {
	s.hub.emit(Event{
		Type:     EventData,
		ID:       id,
		Time:     s.now(),
		Data:     EncodePayload(data),
		Encoding: EncodingBase64,
	})
}

func (s *sink) OnError(id string, message string) {
	s.lastError = message
	s.hub.emit(Event{Type: EventError, ID: id, Time: s.now(), Error: message})
}

func (s *sink) OnClose(id string, reason error) {
	ev := Event{Type: EventClose, ID: id, Time: s.now()}
	if s.lastError != "" {
		ev.Error = s.lastError
	} else if reason != nil {
		ev.Error = reason.Error()
	}
	s.hub.emit(ev)
}
