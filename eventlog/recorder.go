package eventlog

import (
	"errors"
	"os"
	"sync"

	"github.com/cyberinferno/go-tlsbridge/bridge"
	"github.com/cyberinferno/go-tlsbridge/logger"
	"github.com/fxamacker/cbor/v2"
)

// Recorder appends bridge events to a capture file. It is safe for
// concurrent use.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	encoder   *cbor.Encoder
	log       logger.Logger
	listeners []*bridge.Listener
	closed    bool
}

// NewRecorder opens path for appending, creating it with mode 0644 if needed.
//
// Parameters:
//   - path: Capture file
//   - log: Receives encoding failures; nil discards them
//
// Returns:
//   - A new *Recorder, or the open error
func NewRecorder(path string, log logger.Logger) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Recorder{file: f, encoder: newEncoder(f), log: log}, nil
}

// Attach subscribes the recorder to every event type of b. Close detaches it.
func (r *Recorder) Attach(b *bridge.Bridge) error {
	var added []*bridge.Listener
	for _, et := range bridge.EventTypes {
		l, err := b.AddListener(et, r.Record)
		if err != nil {
			for _, a := range added {
				a.Remove()
			}
			return err
		}
		added = append(added, l)
	}

	r.mu.Lock()
	r.listeners = append(r.listeners, added...)
	r.mu.Unlock()
	return nil
}

// Record writes ev. Failures are logged; recording never disturbs the
// bridge. Events after Close are dropped.
func (r *Recorder) Record(ev bridge.Event) {
	rec, err := FromEvent(ev)
	if err != nil {
		r.log.Warn("dropping event", logger.Field{Key: "conn_id", Value: ev.ID}, logger.Err(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if err := r.encoder.Encode(rec); err != nil {
		r.log.Warn("failed to record event", logger.Field{Key: "conn_id", Value: ev.ID}, logger.Err(err))
	}
}

// Close detaches from any bridge and closes the file. Calling it again is a
// no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	listeners := r.listeners
	r.listeners = nil
	r.mu.Unlock()

	for _, l := range listeners {
		l.Remove()
	}

	if err := r.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
