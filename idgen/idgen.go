// Package idgen generates connection identifiers. The default generator
// returns random UUIDs; a sequential generator is available where stable,
// predictable ids are wanted (tests, the echo server's own session table).
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string ids. Implementations must be safe for
// concurrent use.
type Generator interface {
	// NewID returns an id not previously returned by this generator.
	NewID() string
}

// UUID generates random (version 4) UUID strings.
type UUID struct{}

// NewID implements Generator.
func (UUID) NewID() string {
	return uuid.NewString()
}

// Sequence generates monotonically increasing ids of the form
// "<prefix><n>" in a concurrency-safe manner. The first id uses start+1.
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

// NewSequence creates a Sequence whose first id is prefix + (start+1).
//
// Parameters:
//   - prefix: Text prepended to every id; may be empty
//   - start: The counter's initial value
//
// Returns:
//   - A new Sequence instance
func NewSequence(prefix string, start uint64) *Sequence {
	s := &Sequence{prefix: prefix}
	s.n.Store(start)
	return s
}

// Next returns the next counter value without the prefix.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// NewID implements Generator.
func (s *Sequence) NewID() string {
	return s.prefix + strconv.FormatUint(s.Next(), 10)
}

var (
	_ Generator = UUID{}
	_ Generator = (*Sequence)(nil)
)
