// Package trie implements the 256-way byte trie that indexes encoded
// aggregation keys and allocates kernel pool slots for each distinct key.
package trie

import (
	"errors"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/caliper-aggregate/internal/block"
	"github.com/hupe1980/caliper-aggregate/internal/ids"
	"github.com/hupe1980/caliper-aggregate/kernel"
)

// ErrCapacityExceeded is returned when the trie's node block allocator is
// exhausted.
var ErrCapacityExceeded = block.ErrCapacityExceeded

// DefaultMaxBlocks and DefaultEntriesPerBlock mirror the source's default
// block allocator sizing (2048 blocks of 1024 entries).
const (
	DefaultMaxBlocks       = 2048
	DefaultEntriesPerBlock = 1024
)

// Node is one trie node. Next holds the child id reached by each possible
// key byte (0 means absent); children is a roaring bitmap mirror of the
// non-zero entries of Next, kept in sync so Walk can iterate populated
// children in byte order without scanning all 256 slots — a real win once
// tries are shallow and sparse, which they are for low-cardinality key
// attributes.
type Node struct {
	Next     [256]ids.TrieID
	Count    uint64
	KID      ids.KernelID
	children *roaring.Bitmap
}

func (n *Node) ensureChildren() *roaring.Bitmap {
	if n.children == nil {
		n.children = roaring.New()
	}
	return n.children
}

// Trie is the 256-way byte trie over encoded keys. The zero value is not
// ready for use; construct with New.
type Trie struct {
	nodes            *block.Alloc[Node]
	kernels          *block.Alloc[kernel.Kernel]
	numTrieEntries   uint32
	numKernelEntries uint32
	aggrCount        int
}

// New creates an empty trie whose kernel pool reserves aggrCount contiguous
// slots per terminal (0 disables kernel allocation entirely, per §8's
// "aggr_attributes empty" boundary behavior), sized to maxBlocks blocks of
// entriesPerBlock elements each. A zero value for either falls back to the
// package defaults.
func New(aggrCount int, maxBlocks, entriesPerBlock uint32) *Trie {
	if maxBlocks == 0 {
		maxBlocks = DefaultMaxBlocks
	}
	if entriesPerBlock == 0 {
		entriesPerBlock = DefaultEntriesPerBlock
	}
	t := &Trie{
		nodes:     block.New[Node](maxBlocks, entriesPerBlock),
		kernels:   block.New[kernel.Kernel](maxBlocks, entriesPerBlock),
		aggrCount: aggrCount,
	}
	// Root is id 0; touch it eagerly so id 0 is never "absent".
	root, _, _ := t.nodes.Get(0, true)
	root.KID = ids.Sentinel
	return t
}

// NumTrieEntries returns the number of trie nodes created so far (root
// excluded from the counter, per the source's ++num_trie_entries on each
// new child assignment).
func (t *Trie) NumTrieEntries() uint32 { return t.numTrieEntries }

// NumKernelEntries returns the number of kernel pool slots allocated so far.
func (t *Trie) NumKernelEntries() uint32 { return t.numKernelEntries }

// NumBlocks reports the combined node+kernel block counts, for the signal-
// context "no allocation occurred" test (§8 invariant 4).
func (t *Trie) NumBlocks() (nodeBlocks, kernelBlocks uint32) {
	return t.nodes.NumBlocks(), t.kernels.NumBlocks()
}

// FindOrCreate walks key byte by byte from the root, allocating trie nodes
// (and, at the terminal, kernel slots) as needed when alloc is true. It
// returns the terminal node's id and whether the terminal exists.
func (t *Trie) FindOrCreate(key []byte, alloc bool) (ids.TrieID, bool, error) {
	nodeID := ids.TrieID(0)
	node, ok, err := t.nodes.Get(0, alloc)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}

	for _, b := range key {
		next := node.Next[b]
		if next == 0 {
			if !alloc {
				return 0, false, nil
			}
			t.numTrieEntries++
			next = t.numTrieEntries
			node.Next[b] = next
			node.ensureChildren().Add(uint32(b))

			// Give the freshly allocated node its sentinel immediately, so
			// KID==0 can never be mistaken for "not yet visited": kernel
			// slot ids themselves start at 1 (see below).
			child, _, err := t.nodes.Get(next, true)
			if err != nil {
				return 0, false, err
			}
			child.KID = ids.Sentinel
		}
		nodeID = next
		node, ok, err = t.nodes.Get(next, alloc)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
	}

	if node.KID == ids.Sentinel && t.aggrCount > 0 {
		if !alloc {
			return nodeID, true, nil
		}
		first := t.numKernelEntries + 1
		for i := 0; i < t.aggrCount; i++ {
			k, _, err := t.kernels.Get(first+uint32(i), true)
			if err != nil {
				return 0, false, err
			}
			*k = kernel.New()
		}
		node.KID = first
		t.numKernelEntries += uint32(t.aggrCount)
	}

	return nodeID, true, nil
}

// Kernel resolves the kernel pool slot at id, allocating its backing block
// if needed and alloc is true. It does not initialize the slot: slots are
// set to kernel.New() by FindOrCreate when it assigns them to a terminal,
// and a slot never assigned holds the Go zero value (Min/Max at 0).
func (t *Trie) Kernel(id ids.KernelID, alloc bool) (*kernel.Kernel, bool, error) {
	k, ok, err := t.kernels.Get(id, alloc)
	if err != nil || !ok {
		return nil, ok, err
	}
	return k, true, nil
}

// Node returns the node for id, if its backing block has been installed.
func (t *Trie) Node(id ids.TrieID) (*Node, bool) {
	n, ok, _ := t.nodes.Get(id, false)
	return n, ok
}

// Visitor is called by Walk for every terminal (Count > 0) node,
// depth-first pre-order, with the exact key bytes that reach it.
type Visitor func(key []byte, node *Node) error

// ErrAbortWalk is a sentinel a Visitor can return to stop Walk early
// without treating it as a hard error at the call site.
var ErrAbortWalk = errors.New("trie: walk aborted")

// Walk performs a depth-first, pre-order traversal, visiting every node
// with Count > 0.
func (t *Trie) Walk(visit Visitor) error {
	root, ok := t.Node(0)
	if !ok {
		return nil
	}
	buf := make([]byte, 0, 128)
	err := t.walk(root, buf, visit)
	if errors.Is(err, ErrAbortWalk) {
		return nil
	}
	return err
}

func (t *Trie) walk(n *Node, key []byte, visit Visitor) error {
	if n.Count > 0 {
		if err := visit(key, n); err != nil {
			return err
		}
	}
	if n.children == nil {
		return nil
	}
	it := n.children.Iterator()
	for it.HasNext() {
		b := byte(it.Next())
		childID := n.Next[b]
		child, ok := t.Node(childID)
		if !ok {
			continue
		}
		if err := t.walk(child, append(key, b), visit); err != nil {
			return err
		}
	}
	return nil
}

// Clear releases all trie and kernel-pool storage and resets counters.
func (t *Trie) Clear() {
	t.nodes.Clear()
	t.kernels.Clear()
	t.numTrieEntries = 0
	t.numKernelEntries = 0
	root, _, _ := t.nodes.Get(0, true)
	root.KID = ids.Sentinel
}
