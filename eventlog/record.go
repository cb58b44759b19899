// Package eventlog captures bridge events to a CBOR file and reads them back
// for offline inspection. Each record is one self-delimiting CBOR item, so a
// capture can be appended to across runs and streamed without loading it
// whole.
package eventlog

import (
	"fmt"
	"io"
	"time"

	"github.com/cyberinferno/go-tlsbridge/bridge"
	"github.com/fxamacker/cbor/v2"
)

// Record is the stored form of one bridge event. Integer keys keep the
// encoding compact.
type Record struct {
	Timestamp    time.Time     `cbor:"1,keyasint"`
	ConnectionID string        `cbor:"2,keyasint"`
	Type         string        `cbor:"3,keyasint"`
	Payload      []byte        `cbor:"4,keyasint,omitempty"` // Raw bytes of a data event
	Error        string        `cbor:"5,keyasint,omitempty"`
	Protocol     string        `cbor:"6,keyasint,omitempty"`
	TLSVersion   string        `cbor:"7,keyasint,omitempty"`
	CipherSuite  string        `cbor:"8,keyasint,omitempty"`
	ConnectTime  time.Duration `cbor:"9,keyasint,omitempty"`
}

// FromEvent converts a bridge event. Data payloads are stored decoded.
func FromEvent(ev bridge.Event) (Record, error) {
	r := Record{
		Timestamp:    ev.Time,
		ConnectionID: ev.ID,
		Type:         string(ev.Type),
		Error:        ev.Error,
		Protocol:     ev.Protocol,
		TLSVersion:   ev.TLSVersion,
		CipherSuite:  ev.CipherSuite,
		ConnectTime:  ev.ConnectTime,
	}

	if ev.Type == bridge.EventData {
		payload, err := ev.Bytes()
		if err != nil {
			return Record{}, fmt.Errorf("decode data event payload: %w", err)
		}
		r.Payload = payload
	}

	return r, nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("eventlog: cbor encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("eventlog: cbor decoder mode: %v", err))
	}
}

// Marshal encodes a single record.
func Marshal(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// Unmarshal decodes a single record.
func Unmarshal(data []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
