// Package budget bounds the number of concurrently live per-thread
// databases the registry will construct, so that a pathological
// thread-creation storm degrades predictably instead of growing memory
// without bound.
//
// Adapted from the teacher's resource.Controller: the memory/concurrency
// semaphore half survives, generalized from "bytes"/"background workers" to
// "live per-thread databases"; the IO rate-limiter half is dropped (see
// DESIGN.md) since this engine has no I/O boundary to shape.
package budget

import "golang.org/x/sync/semaphore"

// Controller caps the number of concurrently live per-thread databases.
// The zero value is unlimited; use New for a bounded controller.
type Controller struct {
	sem *semaphore.Weighted // nil means unlimited
	max int64
}

// New creates a Controller allowing at most max concurrently live
// databases. max <= 0 means unlimited.
func New(max int) *Controller {
	if max <= 0 {
		return &Controller{}
	}
	return &Controller{sem: semaphore.NewWeighted(int64(max)), max: int64(max)}
}

// TryAcquire attempts to reserve one database slot without blocking. It
// returns false when the budget is exhausted, in which case the caller
// falls back to a shared overflow database rather than failing outright
// (see registry.Acquire).
func (c *Controller) TryAcquire() bool {
	if c == nil || c.sem == nil {
		return true
	}
	return c.sem.TryAcquire(1)
}

// Release returns a previously acquired slot to the budget.
func (c *Controller) Release() {
	if c == nil || c.sem == nil {
		return
	}
	c.sem.Release(1)
}

// Max returns the configured maximum, or 0 if unlimited.
func (c *Controller) Max() int {
	if c == nil {
		return 0
	}
	return int(c.max)
}
