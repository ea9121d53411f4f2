package aggkey_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/caliper-aggregate/aggkey"
	"github.com/hupe1980/caliper-aggregate/host"
)

// fakeHost is a minimal in-memory host.Host test double.
type fakeHost struct {
	nodes    map[host.NodeID]host.Node
	nextID   host.NodeID
	rejectMk bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{nodes: map[host.NodeID]host.Node{}, nextID: 1}
}

func (h *fakeHost) addNode(attr host.AttributeID, parent host.NodeID, hasParent bool) host.NodeID {
	id := h.nextID
	h.nextID++
	h.nodes[id] = host.Node{ID: id, Attribute: attr, Parent: parent, HasParent: hasParent}
	return id
}

func (h *fakeHost) GetAttribute(string) (host.Attribute, bool) { return host.Attribute{}, false }
func (h *fakeHost) CreateAttribute(string, host.Kind, host.AttributeFlags) (host.Attribute, error) {
	return host.Attribute{}, nil
}
func (h *fakeHost) MakeTreeEntry(chain []host.NodeID, root host.NodeID) (host.NodeID, bool) {
	if h.rejectMk {
		return 0, false
	}
	id := h.addNode(0, root, true)
	return id, true
}
func (h *fakeHost) Node(id host.NodeID) (host.Node, bool) {
	n, ok := h.nodes[id]
	return n, ok
}
func (h *fakeHost) IsSignalContext() bool             { return false }
func (h *fakeHost) EmitReducedSnapshot(host.Snapshot) {}

func (h *fakeHost) OnAttributeCreated(func(host.Attribute))               {}
func (h *fakeHost) OnPostInit(func())                                     {}
func (h *fakeHost) OnProcessSnapshot(func(host.ThreadID, host.Snapshot))  {}
func (h *fakeHost) OnFlush(func(context.Context))                        {}
func (h *fakeHost) OnFinish(func())                                       {}

func TestKeylessSnapshotSortsNodesForCanonicalization(t *testing.T) {
	h := newFakeHost()
	b := aggkey.New(h, nil, 0, 128)

	r1 := b.Build(host.Snapshot{Nodes: []host.NodeID{3, 5}})
	r2 := b.Build(host.Snapshot{Nodes: []host.NodeID{5, 3}})

	assert.Equal(t, r1.Key, r2.Key)
	assert.NotEmpty(t, r1.Key)
}

func TestImmediateKeyAttributeProducesDistinctKeys(t *testing.T) {
	h := newFakeHost()
	rank := host.AttributeID(42)
	b := aggkey.New(h, []host.AttributeID{rank}, 0, 128)

	r0 := b.Build(host.Snapshot{Entries: []host.Entry{{Attribute: rank, Value: host.Value{Kind: host.KindUint, Uint: 0}}}})
	r1 := b.Build(host.Snapshot{Entries: []host.Entry{{Attribute: rank, Value: host.Value{Kind: host.KindUint, Uint: 1}}}})

	assert.NotEqual(t, r0.Key, r1.Key)

	r0Again := b.Build(host.Snapshot{Entries: []host.Entry{{Attribute: rank, Value: host.Value{Kind: host.KindUint, Uint: 0}}}})
	assert.Equal(t, r0.Key, r0Again.Key)
}

func TestKeyOverflowOmitsTrailingImmediate(t *testing.T) {
	h := newFakeHost()
	a1, a2, a3 := host.AttributeID(1), host.AttributeID(2), host.AttributeID(3)
	b := aggkey.New(h, []host.AttributeID{a1, a2, a3}, 0, 16)

	// Values requiring ~6 bytes each in varint form.
	big := uint64(1) << 40
	snap := host.Snapshot{Entries: []host.Entry{
		{Attribute: a1, Value: host.Value{Kind: host.KindUint, Uint: big}},
		{Attribute: a2, Value: host.Value{Kind: host.KindUint, Uint: big + 1}},
		{Attribute: a3, Value: host.Value{Kind: host.KindUint, Uint: big + 2}},
	}}

	r := b.Build(snap)
	require.LessOrEqual(t, len(r.Key), 16)
	assert.False(t, r.HostRejected)
}

func TestHostRejectionOmitsNodePortion(t *testing.T) {
	h := newFakeHost()
	h.rejectMk = true
	rank := host.AttributeID(1)
	root := h.addNode(rank, 0, false)
	child := h.addNode(rank, root, true)

	b := aggkey.New(h, []host.AttributeID{rank}, 0, 128)
	r := b.Build(host.Snapshot{Nodes: []host.NodeID{child}})

	assert.True(t, r.HostRejected)
	// toc must reflect n_nodes=0, not a stale 1.
	assert.Equal(t, byte(0), r.Key[0])
}

// No ancestor of the snapshot's nodes matches a configured key attribute:
// this proceeds with an empty node portion, not a host rejection — the host
// is never even asked to synthesize anything.
func TestNoMatchingAncestorIsNotAHostRejection(t *testing.T) {
	h := newFakeHost()
	unrelated := host.AttributeID(99)
	node := h.addNode(unrelated, 0, false)

	rank := host.AttributeID(1)
	b := aggkey.New(h, []host.AttributeID{rank}, 0, 128)
	r := b.Build(host.Snapshot{Nodes: []host.NodeID{node}})

	assert.False(t, r.HostRejected)
	assert.Equal(t, byte(0), r.Key[0])
}

func TestKeylessNodeSetIsBoundedByKeyLenMax(t *testing.T) {
	h := newFakeHost()
	b := aggkey.New(h, nil, 0, 16)

	nodes := make([]host.NodeID, 0, 64)
	for i := host.NodeID(1); i <= 64; i++ {
		nodes = append(nodes, i*1_000_000) // force multi-byte varints
	}

	r := b.Build(host.Snapshot{Nodes: nodes})
	require.LessOrEqual(t, len(r.Key), 16)
	assert.False(t, r.HostRejected)
}

func TestEmptySnapshotEncodesWithoutPanic(t *testing.T) {
	h := newFakeHost()
	b := aggkey.New(h, nil, 0, 128)
	r := b.Build(host.Snapshot{})
	// toc=0, no nodes, no immediates -> a single zero byte, never an empty
	// key; this asserts the encoder handles empty input without panicking.
	assert.NotNil(t, r.Key)
}
