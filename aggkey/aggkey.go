// Package aggkey builds the canonical byte key that groups snapshots for
// aggregation, per the encoding rules of the data model this port implements.
package aggkey

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/caliper-aggregate/host"
	"github.com/hupe1980/caliper-aggregate/varint"
)

// Builder encodes snapshots into canonical byte keys for a fixed
// configuration of key attributes.
type Builder struct {
	host      host.Host
	keyAttrs  []host.AttributeID
	aggRoot   host.NodeID
	keyLenMax int
}

// New creates a Builder for the given configured key attributes (in
// declaration order) and the owning per-thread database's aggregate root
// node.
func New(h host.Host, keyAttrs []host.AttributeID, aggRoot host.NodeID, keyLenMax int) *Builder {
	if keyLenMax <= 0 {
		keyLenMax = 128
	}
	return &Builder{host: h, keyAttrs: keyAttrs, aggRoot: aggRoot, keyLenMax: keyLenMax}
}

// Result is the outcome of Build.
type Result struct {
	Key []byte
	// HostRejected is true when node-path synthesis was attempted and the
	// host declined; the caller logs this as a HostRejection, not an error.
	HostRejected bool
}

// Build encodes snap into its canonical key. The key always starts with the
// toc varint, so it is at least one byte long, even for an empty snapshot.
func (b *Builder) Build(snap host.Snapshot) Result {
	nodeIDs, hostRejected := b.nodePortion(snap)
	immAttrIdx, immValues := b.immediatePortion(snap, nodeIDs)

	hasImm := len(immAttrIdx) > 0
	toc := uint64(2*len(nodeIDs)) + boolBit(hasImm)

	out := make([]byte, 0, b.keyLenMax)
	out, _ = varint.Encode(toc, out)
	for _, id := range nodeIDs {
		out, _ = varint.Encode(uint64(id), out)
	}
	if hasImm {
		bf := bitset.New(uint(len(b.keyAttrs)))
		for _, idx := range immAttrIdx {
			bf.Set(uint(idx))
		}
		out, _ = varint.Encode(bitfieldToUint64(bf), out)
		for _, v := range immValues {
			out, _ = varint.Encode(v, out)
		}
	}

	return Result{Key: out, HostRejected: hostRejected}
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// nodePortion implements §4E step 1.
func (b *Builder) nodePortion(snap host.Snapshot) ([]host.NodeID, bool) {
	if len(b.keyAttrs) > 0 && len(snap.Nodes) > 0 {
		chain, ok := b.buildAncestorChain(snap.Nodes)
		if !ok {
			// No ancestor of any snapshot node matched a configured key
			// attribute; there is nothing to ask the host to synthesize, so
			// this proceeds with an empty node portion rather than being
			// treated as a host rejection.
			return nil, false
		}
		synthesized, ok := b.host.MakeTreeEntry(chain, b.aggRoot)
		if !ok {
			// The source still counts one node in toc here; this port
			// returns no node ids, so toc records zero nodes.
			return nil, true
		}
		return []host.NodeID{synthesized}, false
	}

	if len(snap.Nodes) == 0 {
		return nil, false
	}

	// Canonicalization: sort ascending so permutations of a keyless
	// snapshot's node set produce identical keys.
	ids := append([]host.NodeID(nil), snap.Nodes...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Bound emission the way the source's node_key_len+10 < MAX_KEYLEN loop
	// guard does, so a large node set can't push the encoded key past
	// keyLenMax: reserve a flat slack for the toc varint Build prepends.
	const slack = 10
	used := 0
	bounded := ids[:0:0]
	for _, id := range ids {
		idLen := varint.Len(uint64(id))
		if used+idLen+slack > b.keyLenMax {
			break
		}
		bounded = append(bounded, id)
		used += idLen
	}
	return bounded, false
}

// buildAncestorChain implements the prefix-sum placement described in §4E:
// for each configured key attribute, gather the ancestors (including the
// node itself) of every node in roots whose owning attribute matches, then
// place them per-attribute in reverse discovery order (deepest ancestor
// last within its attribute's segment).
func (b *Builder) buildAncestorChain(roots []host.NodeID) ([]host.NodeID, bool) {
	counts := make([]int, len(b.keyAttrs))
	attrIndex := make(map[host.AttributeID]int, len(b.keyAttrs))
	for i, a := range b.keyAttrs {
		attrIndex[a] = i
	}

	// First pass: count matches per attribute.
	for _, root := range roots {
		cur, ok := root, true
		for ok {
			node, exists := b.host.Node(cur)
			if !exists {
				break
			}
			if idx, matched := attrIndex[node.Attribute]; matched {
				counts[idx]++
			}
			cur, ok = node.Parent, node.HasParent
		}
	}

	total := 0
	rangeEnd := make([]int, len(b.keyAttrs))
	for i, c := range counts {
		total += c
		rangeEnd[i] = total
	}

	if total == 0 {
		// No ancestor matched any configured key attribute; there is
		// nothing meaningful to synthesize.
		return nil, false
	}

	L := make([]host.NodeID, total)
	filled := make([]int, len(b.keyAttrs))

	for _, root := range roots {
		cur, ok := root, true
		for ok {
			node, exists := b.host.Node(cur)
			if !exists {
				break
			}
			if idx, matched := attrIndex[node.Attribute]; matched {
				filled[idx]++
				pos := rangeEnd[idx] - filled[idx]
				L[pos] = cur
			}
			cur, ok = node.Parent, node.HasParent
		}
	}

	return L, true
}

// immediatePortion implements §4E step 2: it returns, in declaration order,
// the indices of configured key attributes that had a matching immediate
// entry and their packed uint64 values.
func (b *Builder) immediatePortion(snap host.Snapshot, nodeIDs []host.NodeID) ([]int, []uint64) {
	if len(b.keyAttrs) == 0 {
		return nil, nil
	}

	// Running length budget: toc + the already-fixed node ids + slack byte,
	// tracked as we tentatively add bitfield+immediates.
	used := varint.Len(uint64(2*len(nodeIDs) + 1))
	for _, id := range nodeIDs {
		used += varint.Len(uint64(id))
	}
	const slack = 1

	var idxs []int
	var vals []uint64
	valuesLen := 0

	for k, attr := range b.keyAttrs {
		var found *host.Entry
		for i := range snap.Entries {
			if snap.Entries[i].Attribute == attr {
				found = &snap.Entries[i]
				break
			}
		}
		if found == nil {
			continue
		}

		v := found.Value.AsUint64()
		// Bit k becomes the new highest set bit, since attributes are
		// scanned in increasing k order; the varint length of a bitfield
		// with only its highest bit at position k set is the same as any
		// bitfield whose highest set bit is k, regardless of lower bits.
		bfLen := varint.Len(uint64(1) << uint(k))
		valLen := varint.Len(v)

		if used+bfLen+valuesLen+valLen+slack > b.keyLenMax {
			break
		}

		idxs = append(idxs, k)
		vals = append(vals, v)
		valuesLen += valLen
	}

	return idxs, vals
}

func bitfieldToUint64(bf *bitset.BitSet) uint64 {
	var v uint64
	for i, ok := bf.NextSet(0); ok; i, ok = bf.NextSet(i + 1) {
		v |= 1 << i
	}
	return v
}
