package threaddb

import (
	"fmt"

	"github.com/hupe1980/caliper-aggregate/host"
	"github.com/hupe1980/caliper-aggregate/varint"
)

// decoder inverts aggkey.Builder's encoding for one key, per §4F's Flush
// decoding steps. Keys are self-produced, so a decode failure here is
// unexpected corruption, not user input to validate defensively.
type decoder struct {
	host     host.Host
	keyAttrs []host.AttributeID
	kinds    []host.Kind
	snapMax  int
	in       []byte
}

// DecodeError wraps a decode failure with the byte offset it occurred at.
type DecodeError struct {
	Offset int
	cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("threaddb: decode key at offset %d: %v", e.Offset, e.cause)
}

func (e *DecodeError) Unwrap() error { return e.cause }

func (d *decoder) decodeKey() ([]host.NodeID, []host.Entry, error) {
	pos := 0

	toc, n, err := varint.Decode(d.in[pos:])
	if err != nil {
		return nil, nil, &DecodeError{Offset: pos, cause: err}
	}
	pos += n

	numNodes := int(toc / 2)
	hasImm := toc&1 != 0

	var nodes []host.NodeID
	for i := 0; i < numNodes && i < d.snapMax; i++ {
		id, n, err := varint.Decode(d.in[pos:])
		if err != nil {
			return nil, nil, &DecodeError{Offset: pos, cause: err}
		}
		pos += n
		nodes = append(nodes, host.NodeID(id))
	}

	var entries []host.Entry
	if hasImm {
		bitfield, n, err := varint.Decode(d.in[pos:])
		if err != nil {
			return nil, nil, &DecodeError{Offset: pos, cause: err}
		}
		pos += n

		for k := 0; bitfield != 0; k++ {
			if bitfield&1 == 0 {
				bitfield >>= 1
				continue
			}
			bitfield >>= 1

			v, n, err := varint.Decode(d.in[pos:])
			if err != nil {
				return nil, nil, &DecodeError{Offset: pos, cause: err}
			}
			pos += n

			if k >= len(d.keyAttrs) {
				continue
			}
			kind := host.KindUint
			if k < len(d.kinds) {
				kind = d.kinds[k]
			}
			entries = append(entries, host.Entry{
				Attribute: d.keyAttrs[k],
				Value:     host.ValueFromUint64(kind, v),
			})
		}
	}

	return nodes, entries, nil
}
