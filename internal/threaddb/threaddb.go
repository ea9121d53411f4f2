// Package threaddb implements the per-thread database: one trie, one kernel
// pool, and the scratch state needed to turn snapshots into key-indexed
// running statistics on a single logical thread's ingest path.
package threaddb

import (
	"sync/atomic"

	"github.com/hupe1980/caliper-aggregate/aggkey"
	"github.com/hupe1980/caliper-aggregate/host"
	"github.com/hupe1980/caliper-aggregate/internal/ids"
	"github.com/hupe1980/caliper-aggregate/internal/trie"
)

// AggregatedAttribute pairs a configured aggregated attribute id with the
// three statistics attribute ids flush re-emits its kernel as.
type AggregatedAttribute struct {
	Attribute host.AttributeID
	MinAttr   host.AttributeID
	MaxAttr   host.AttributeID
	SumAttr   host.AttributeID
}

// Config configures a Database's key encoding and kernel layout. It is
// shared read-only across every Database in a service instance.
type Config struct {
	Host host.Host

	// KeyAttrs and KeyAttrKinds are parallel: KeyAttrKinds[i] is the value
	// kind flush must reinterpret an immediate value for KeyAttrs[i] as,
	// since a decoded key only carries a raw uint64 bit pattern.
	KeyAttrs     []host.AttributeID
	KeyAttrKinds []host.Kind

	AggAttrs    []AggregatedAttribute
	AggRoot     host.NodeID
	KeyLenMax   int
	CountAttr   host.AttributeID
	MaxBlocks   uint32
	EntriesSize uint32

	// SnapMax bounds the number of node ids a single decoded key may
	// produce, guarding flush against a corrupt self-produced key looping
	// forever. 0 uses DefaultSnapMax.
	SnapMax int
}

// DefaultSnapMax is the default ceiling on decoded context-tree nodes per
// flushed snapshot.
const DefaultSnapMax = 64

// Database is one logical thread's private aggregation state: a trie
// indexing encoded keys, a kernel pool backing its terminals, and the
// counters described in §3. It is mutated only by its owning goroutine
// except during a flush window bounded by stopped.
type Database struct {
	cfg     Config
	key     *aggkey.Builder
	trie    *trie.Trie
	stopped atomic.Bool
	retired atomic.Bool

	numDropped uint64
	maxKeylen  int
}

// New creates a Database for cfg. cfg.AggRoot is the host-allocated node
// this database's synthesized key paths are rooted at.
func New(cfg Config) *Database {
	if cfg.MaxBlocks == 0 {
		cfg.MaxBlocks = trie.DefaultMaxBlocks
	}
	if cfg.EntriesSize == 0 {
		cfg.EntriesSize = trie.DefaultEntriesPerBlock
	}
	return &Database{
		cfg:  cfg,
		key:  aggkey.New(cfg.Host, cfg.KeyAttrs, cfg.AggRoot, cfg.KeyLenMax),
		trie: trie.New(len(cfg.AggAttrs), cfg.MaxBlocks, cfg.EntriesSize),
	}
}

// Stopped reports whether ingestion is currently suspended for a flush.
func (d *Database) Stopped() bool { return d.stopped.Load() }

// SetStopped is called by the flusher to open/close the ingest window.
func (d *Database) SetStopped(v bool) { d.stopped.Store(v) }

// Retired reports whether the owning thread has released this database.
func (d *Database) Retired() bool { return d.retired.Load() }

// SetRetired marks the database for reclamation at the next flush. It is
// called by registry.Handle's Release or its GC-finalizer backstop.
func (d *Database) SetRetired() { d.retired.Store(true) }

// NumDropped returns the count of samples dropped by capacity or signal-
// context misses.
func (d *Database) NumDropped() uint64 { return d.numDropped }

// MaxKeylen returns the longest encoded key length produced so far.
func (d *Database) MaxKeylen() int { return d.maxKeylen }

// Process ingests one snapshot on the hot path, per §4F. It never returns
// an error: every failure mode is a counted drop, matching the ingest-
// never-raises contract of §7. It reports whether the host declined to
// synthesize a node path for this snapshot, so the caller can log the
// rejection with the logical thread it occurred on.
func (d *Database) Process(snap host.Snapshot) (hostRejected bool) {
	if d.stopped.Load() {
		d.numDropped++
		return false
	}

	r := d.key.Build(snap)
	hostRejected = r.HostRejected
	if len(r.Key) == 0 {
		return
	}
	if len(r.Key) > d.maxKeylen {
		d.maxKeylen = len(r.Key)
	}

	alloc := !d.cfg.Host.IsSignalContext()

	id, ok, err := d.trie.FindOrCreate(r.Key, alloc)
	if err != nil || !ok {
		d.numDropped++
		return
	}
	node, ok := d.trie.Node(id)
	if !ok {
		d.numDropped++
		return
	}
	node.Count++

	if len(d.cfg.AggAttrs) == 0 {
		return
	}
	for a, aggAttr := range d.cfg.AggAttrs {
		for i := range snap.Entries {
			if snap.Entries[i].Attribute != aggAttr.Attribute {
				continue
			}
			k, ok, err := d.trie.Kernel(node.KID+ids.KernelID(a), alloc)
			if err != nil || !ok {
				d.numDropped++
				continue
			}
			k.Add(valueAsFloat64(snap.Entries[i].Value))
		}
	}
	return
}

func valueAsFloat64(v host.Value) float64 {
	switch v.Kind {
	case host.KindDouble:
		return v.Double
	case host.KindInt:
		return float64(v.Int)
	case host.KindUint:
		return float64(v.Uint)
	default:
		return float64(v.Uint)
	}
}

// Emit is the callback signature Flush re-emits reduced snapshots through.
type Emit func(host.Snapshot)

// Flush walks the trie depth-first, decoding each terminal's key back into
// a synthetic snapshot and calling emit, per §4F. It returns the number of
// records emitted. Callers are responsible for stopping ingestion (via
// SetStopped) before calling Flush and resuming it after.
func (d *Database) Flush(emit Emit) (int, error) {
	emitted := 0
	err := d.trie.Walk(func(key []byte, n *trie.Node) error {
		snap, err := d.decode(key, n)
		if err != nil {
			return err
		}
		emit(snap)
		emitted++
		return nil
	})
	return emitted, err
}

func (d *Database) decode(key []byte, n *trie.Node) (host.Snapshot, error) {
	snapMax := d.cfg.SnapMax
	if snapMax <= 0 {
		snapMax = DefaultSnapMax
	}
	dec := decoder{
		host:     d.cfg.Host,
		keyAttrs: d.cfg.KeyAttrs,
		kinds:    d.cfg.KeyAttrKinds,
		snapMax:  snapMax,
		in:       key,
	}
	nodes, entries, err := dec.decodeKey()
	if err != nil {
		return host.Snapshot{}, err
	}

	for a, aggAttr := range d.cfg.AggAttrs {
		if n.KID == ids.Sentinel {
			continue
		}
		k, ok, err := d.trie.Kernel(n.KID+ids.KernelID(a), false)
		if err != nil {
			return host.Snapshot{}, err
		}
		if !ok || k.Count == 0 {
			continue
		}
		entries = append(entries,
			host.Entry{Attribute: aggAttr.MinAttr, Value: host.Value{Kind: host.KindDouble, Double: k.Min}},
			host.Entry{Attribute: aggAttr.MaxAttr, Value: host.Value{Kind: host.KindDouble, Double: k.Max}},
			host.Entry{Attribute: aggAttr.SumAttr, Value: host.Value{Kind: host.KindDouble, Double: k.Sum}},
		)
	}

	entries = append(entries, host.Entry{
		Attribute: d.cfg.CountAttr,
		Value:     host.Value{Kind: host.KindUint, Uint: n.Count},
	})

	return host.Snapshot{Nodes: nodes, Entries: entries}, nil
}

// Clear drops all trie and kernel storage and resets counters, per §4F.
func (d *Database) Clear() {
	d.trie.Clear()
	d.numDropped = 0
	d.maxKeylen = 0
}
