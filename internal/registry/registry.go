// Package registry implements the process-wide database registry: a
// spinlock-guarded doubly-linked list of per-thread databases, capacity-
// budgeted acquisition, and the flush-all coordination that walks every
// live database, drains it, and reclaims retired ones.
package registry

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/caliper-aggregate/host"
	"github.com/hupe1980/caliper-aggregate/internal/budget"
	"github.com/hupe1980/caliper-aggregate/internal/threaddb"
)

// entry is one node of the registry's intrusive doubly-linked list.
type entry struct {
	db         *threaddb.Database
	prev, next *entry
	shared     bool // the overflow slot: never unlinked, never retired away
	ownsBudget bool
}

// Registry owns the global list of live per-thread databases and the
// capacity budget bounding how many may exist concurrently.
//
// The list mutation lock is a short spin, styled after the teacher's
// engine.WorkerPool CompareAndSwap-based idempotent-shutdown spin: list
// splice/unlink hold it only for the pointer surgery itself, never across a
// Flush call.
type Registry struct {
	factory func() *threaddb.Database
	budget  *budget.Controller

	lock atomic.Bool
	head *entry

	overflowOnce sync.Once
	overflow     *entry
}

// New creates a Registry whose databases are produced by factory, capped at
// maxConcurrent concurrently live non-shared databases (0 = unbounded).
func New(factory func() *threaddb.Database, maxConcurrent int) *Registry {
	return &Registry{factory: factory, budget: budget.New(maxConcurrent)}
}

func (r *Registry) spinLock() {
	for !r.lock.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (r *Registry) spinUnlock() { r.lock.Store(false) }

// Handle is the Go-idiomatic stand-in for a pthread TLS slot: the caller
// holds it for the lifetime of a logical thread and releases it (or lets it
// become unreachable, in which case a GC finalizer releases it instead) when
// that thread is done.
type Handle struct {
	reg      *Registry
	e        *entry
	released atomic.Bool
}

// Database returns the handle's owned per-thread database.
func (h *Handle) Database() *threaddb.Database { return h.e.db }

// Release marks the underlying database retired, per §4G's thread-exit
// callback. It does not free the database; reclamation happens lazily at
// the next FlushAll. Release is idempotent and safe to call multiple times
// (including once explicitly and once via the finalizer backstop).
func (h *Handle) Release() {
	if h.e.shared {
		// The overflow slot outlives any single handle acquired against it.
		return
	}
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.e.db.SetRetired()
	runtime.SetFinalizer(h, nil)
}

func handleFinalizer(h *Handle) { h.Release() }

// Acquire returns a new Handle backed by a freshly constructed database, or,
// if the capacity budget (§2E, §5) is exhausted, a Handle sharing the
// registry's single overflow database. Acquisition never fails outright,
// matching the source's unconditional TLS-backed acquisition.
func (r *Registry) Acquire() *Handle {
	if r.budget.TryAcquire() {
		e := &entry{db: r.factory(), ownsBudget: true}
		r.push(e)
		h := &Handle{reg: r, e: e}
		runtime.SetFinalizer(h, handleFinalizer)
		return h
	}
	return &Handle{reg: r, e: r.overflowEntry()}
}

func (r *Registry) overflowEntry() *entry {
	r.overflowOnce.Do(func() {
		e := &entry{db: r.factory(), shared: true}
		r.overflow = e
		r.push(e)
	})
	return r.overflow
}

func (r *Registry) push(e *entry) {
	r.spinLock()
	e.next = r.head
	if r.head != nil {
		r.head.prev = e
	}
	r.head = e
	r.spinUnlock()
}

func (r *Registry) unlink(e *entry) {
	r.spinLock()
	if e.prev != nil {
		e.prev.next = e.next
	} else if r.head == e {
		r.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	r.spinUnlock()
}

// FlushStats folds per-database counters gathered during one FlushAll pass.
type FlushStats struct {
	Databases int
	Reclaimed int
	Emitted   int
	Dropped   uint64
	MaxKeylen int
	Errors    []error
}

// FlushAll implements §4G's flush-all coordination: it walks every live
// database, stops its ingestion, drains it via Flush, clears it, resumes
// ingestion, and reclaims it if its owning thread has retired.
//
// ctx is accepted so callers can thread request-scoped values/deadlines
// through to their own logging, following the teacher's convention of a
// leading context.Context parameter on externally triggered operations; the
// walk itself never checks ctx.Done(), honoring "flush runs to completion".
func (r *Registry) FlushAll(ctx context.Context, emit func(host.Snapshot)) FlushStats {
	r.spinLock()
	cur := r.head
	r.spinUnlock()

	var stats FlushStats
	for cur != nil {
		next := cur.next
		stats.Databases++

		d := cur.db
		d.SetStopped(true)
		n, err := d.Flush(emit)
		stats.Emitted += n
		if err != nil {
			stats.Errors = append(stats.Errors, err)
		}
		stats.Dropped += d.NumDropped()
		if kl := d.MaxKeylen(); kl > stats.MaxKeylen {
			stats.MaxKeylen = kl
		}
		d.Clear()
		d.SetStopped(false)

		if !cur.shared && d.Retired() {
			r.unlink(cur)
			if cur.ownsBudget {
				r.budget.Release()
			}
			stats.Reclaimed++
		}

		cur = next
	}
	return stats
}
