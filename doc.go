// Package aggregate implements an on-line streaming aggregation engine for
// a measurement/instrumentation framework: it ingests snapshots on
// arbitrary application threads and maintains per-thread running statistics
// (min, max, sum, count) grouped by a configurable key, flushable on demand
// as a reduced stream of synthetic snapshots.
//
// # Quick start
//
// Register attaches the service to a host implementation and subscribes to
// its lifecycle events:
//
//	svc, err := aggregate.Register(myHost,
//		aggregate.WithAggregatedAttributes("time.duration"),
//		aggregate.WithKeyAttributes("function"),
//	)
//
// The host is responsible for calling the event hooks Register subscribes
// (attribute creation, post-init, process-snapshot, flush, finish); the
// service does the rest.
//
// # Grouping
//
// By default, snapshots are keyed by their context-tree nodes directly:
// two snapshots aggregate together if they carry the same node set,
// independent of order. Configuring key attributes instead groups by an
// ancestor or immediate attribute value (e.g. an MPI rank or thread name),
// synthesizing a single representative context-tree node per distinct key.
//
// # Concurrency
//
// Each logical thread owns a private database; ingest never blocks and
// never allocates when the host reports signal context. Flush is a single
// external event that walks every thread's database, drains it, and
// reclaims databases whose owning thread has exited.
//
// # Resource bounds
//
// WithBudget caps the number of concurrently live per-thread databases;
// beyond that cap, threads share a single overflow database rather than
// failing to acquire one.
package aggregate
