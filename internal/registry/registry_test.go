package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/caliper-aggregate/host"
	"github.com/hupe1980/caliper-aggregate/internal/registry"
	"github.com/hupe1980/caliper-aggregate/internal/threaddb"
)

const (
	tAttr     = host.AttributeID(1)
	minAttr   = host.AttributeID(2)
	maxAttr   = host.AttributeID(3)
	sumAttr   = host.AttributeID(4)
	countAttr = host.AttributeID(5)
)

type fakeHost struct{}

func (fakeHost) GetAttribute(string) (host.Attribute, bool) { return host.Attribute{}, false }
func (fakeHost) CreateAttribute(string, host.Kind, host.AttributeFlags) (host.Attribute, error) {
	return host.Attribute{}, nil
}
func (fakeHost) MakeTreeEntry([]host.NodeID, host.NodeID) (host.NodeID, bool) { return 0, false }
func (fakeHost) Node(host.NodeID) (host.Node, bool)                          { return host.Node{}, false }
func (fakeHost) IsSignalContext() bool             { return false }
func (fakeHost) EmitReducedSnapshot(host.Snapshot) {}

func (fakeHost) OnAttributeCreated(func(host.Attribute))              {}
func (fakeHost) OnPostInit(func())                                    {}
func (fakeHost) OnProcessSnapshot(func(host.ThreadID, host.Snapshot)) {}
func (fakeHost) OnFlush(func(context.Context))                        {}
func (fakeHost) OnFinish(func())                                      {}

func newFactory() func() *threaddb.Database {
	h := fakeHost{}
	return func() *threaddb.Database {
		return threaddb.New(threaddb.Config{
			Host: h,
			AggAttrs: []threaddb.AggregatedAttribute{
				{Attribute: tAttr, MinAttr: minAttr, MaxAttr: maxAttr, SumAttr: sumAttr},
			},
			CountAttr: countAttr,
		})
	}
}

func entryVal(k host.AttributeID, v float64) host.Entry {
	return host.Entry{Attribute: k, Value: host.Value{Kind: host.KindDouble, Double: v}}
}

// Scenario 5: thread retirement. A released handle's database survives
// until the next flush, which both emits and reclaims it.
func TestThreadRetirementReclaimsAtNextFlush(t *testing.T) {
	reg := registry.New(newFactory(), 0)

	h := reg.Acquire()
	h.Database().Process(host.Snapshot{Nodes: []host.NodeID{1}, Entries: []host.Entry{entryVal(tAttr, 1.0)}})
	h.Release()
	assert.True(t, h.Database().Retired())

	var emitted []host.Snapshot
	stats := reg.FlushAll(context.Background(), func(s host.Snapshot) { emitted = append(emitted, s) })

	require.Len(t, emitted, 1)
	assert.Equal(t, 1, stats.Reclaimed)

	// A second flush sees nothing: the database was unlinked.
	stats2 := reg.FlushAll(context.Background(), func(host.Snapshot) {})
	assert.Equal(t, 0, stats2.Databases)
}

func TestReleaseIsIdempotent(t *testing.T) {
	reg := registry.New(newFactory(), 0)
	h := reg.Acquire()
	assert.NotPanics(t, func() {
		h.Release()
		h.Release()
	})
}

// Scenario 7: registry capacity budget. Handles acquired beyond the budget
// share a single overflow database; ingesting from all of them still
// aggregates correctly.
func TestBudgetExhaustionFallsBackToSharedOverflow(t *testing.T) {
	reg := registry.New(newFactory(), 1)

	h1 := reg.Acquire()
	h2 := reg.Acquire() // budget exhausted: shares the overflow database
	h3 := reg.Acquire()

	assert.NotSame(t, h1.Database(), h2.Database())
	assert.Same(t, h2.Database(), h3.Database())

	h1.Database().Process(host.Snapshot{Nodes: []host.NodeID{1}, Entries: []host.Entry{entryVal(tAttr, 1.0)}})
	h2.Database().Process(host.Snapshot{Nodes: []host.NodeID{2}, Entries: []host.Entry{entryVal(tAttr, 2.0)}})
	h3.Database().Process(host.Snapshot{Nodes: []host.NodeID{2}, Entries: []host.Entry{entryVal(tAttr, 3.0)}})

	var emitted []host.Snapshot
	stats := reg.FlushAll(context.Background(), func(s host.Snapshot) { emitted = append(emitted, s) })

	require.Len(t, emitted, 2)
	assert.Equal(t, 2, stats.Databases)

	var node2Sum float64
	for _, s := range emitted {
		if len(s.Nodes) == 1 && s.Nodes[0] == 2 {
			for _, e := range s.Entries {
				if e.Attribute == sumAttr {
					node2Sum = e.Value.Double
				}
			}
		}
	}
	assert.Equal(t, 5.0, node2Sum)
}

func TestReleasedHandleWithoutBudgetIsReclaimed(t *testing.T) {
	reg := registry.New(newFactory(), 0) // no budget: never overflows, but exercise release path
	h := reg.Acquire()
	h.Release()

	stats := reg.FlushAll(context.Background(), func(host.Snapshot) {})
	assert.Equal(t, 1, stats.Reclaimed)
	assert.Equal(t, 1, stats.Databases)
}
