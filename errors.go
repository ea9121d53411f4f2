package aggregate

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded names the error class for a per-thread database's
	// block allocator or encoded key exceeding its configured maximum. No
	// function in this module returns it: the internal block allocator
	// reports that condition with its own sentinel, which does not match
	// this one under errors.Is.
	ErrCapacityExceeded = errors.New("aggregate: capacity exceeded")

	// ErrHostRejection indicates the host declined to synthesize a
	// context-tree node path for a keyed snapshot.
	ErrHostRejection = errors.New("aggregate: host rejected node synthesis")

	// ErrDecode names the error class for a self-produced key failing to
	// decode during flush; this should never happen in practice. Flush
	// decode errors (FlushStats.Errors) wrap varint.ErrDecode, not this
	// value.
	ErrDecode = errors.New("aggregate: key decode failed")

	// ErrConfig indicates a configuration-level failure: Register wraps it
	// around the host's failure to create an aggregated or statistics
	// attribute.
	ErrConfig = errors.New("aggregate: configuration error")
)

// DecodeError wraps ErrDecode with the byte offset the failure occurred at.
type DecodeError struct {
	Offset int
	cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("aggregate: decode key at offset %d: %v", e.Offset, e.cause)
}

func (e *DecodeError) Unwrap() error { return errors.Join(ErrDecode, e.cause) }

// CapacityExceededError wraps ErrCapacityExceeded with the resource kind and
// configured limit that was exceeded.
type CapacityExceededError struct {
	Kind  string
	Limit uint32
	cause error
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("aggregate: %s capacity %d exceeded", e.Kind, e.Limit)
}

func (e *CapacityExceededError) Unwrap() error { return errors.Join(ErrCapacityExceeded, e.cause) }
