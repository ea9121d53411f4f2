package aggregate

import "github.com/hupe1980/caliper-aggregate/internal/registry"

// defaultAggregatedAttribute is Caliper's own naming convention for a
// wall-clock duration attribute, used when no aggregated attributes are
// configured explicitly.
const defaultAggregatedAttribute = "inclusive#time.duration"

// defaultKeyLenMax mirrors the source's documented default encoded-key
// length ceiling.
const defaultKeyLenMax = 128

// MetricsObserver receives a summary of every completed flush. Implementers
// must not block; the flush event handler waits for this call to return.
type MetricsObserver interface {
	ObserveFlush(registry.FlushStats)
}

type noopObserver struct{}

func (noopObserver) ObserveFlush(registry.FlushStats) {}

type config struct {
	keyAttrNames []string
	aggAttrNames []string
	logger       *Logger
	observer     MetricsObserver
	budget       int
	maxBlocks    uint32
	entriesSize  uint32
	keyLenMax    int
}

func newConfig() *config {
	return &config{
		aggAttrNames: []string{defaultAggregatedAttribute},
		logger:       NoopLogger(),
		observer:     noopObserver{},
		keyLenMax:    defaultKeyLenMax,
	}
}

// Option configures a Service at registration time.
type Option func(*config)

// WithKeyAttributes sets the attributes (by name) that partition the
// aggregation. Default: none — snapshots are keyed by their context-tree
// nodes directly.
func WithKeyAttributes(names ...string) Option {
	return func(c *config) { c.keyAttrNames = names }
}

// WithAggregatedAttributes sets the attributes (by name) whose numeric
// values are reduced per key. Default: a single well-known inclusive-time
// attribute.
func WithAggregatedAttributes(names ...string) Option {
	return func(c *config) { c.aggAttrNames = names }
}

// WithLogger sets the Logger the service reports events through. Default:
// NoopLogger.
func WithLogger(l *Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetricsObserver sets a callback invoked with the folded statistics of
// every completed flush.
func WithMetricsObserver(o MetricsObserver) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithBudget caps the number of concurrently live per-thread databases. 0
// (the default) means unbounded.
func WithBudget(maxConcurrent int) Option {
	return func(c *config) { c.budget = maxConcurrent }
}

// WithBlockSize overrides the block allocator sizing shared by every
// per-thread database's trie and kernel pool.
func WithBlockSize(maxBlocks, entriesPerBlock uint32) Option {
	return func(c *config) {
		c.maxBlocks = maxBlocks
		c.entriesSize = entriesPerBlock
	}
}

// WithKeyLenMax overrides the encoded key length ceiling. Default: 128.
func WithKeyLenMax(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.keyLenMax = n
		}
	}
}
