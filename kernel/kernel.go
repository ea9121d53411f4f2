// Package kernel implements the min/max/sum/count streaming reduction
// applied to every aggregated attribute value.
package kernel

import "math"

// Kernel accumulates a running min, max, sum and count over a stream of
// float64 samples. The zero value is not ready for use; construct with New.
type Kernel struct {
	Min   float64
	Max   float64
	Sum   float64
	Count uint64
}

// New returns a freshly initialized Kernel.
//
// The source this is ported from initializes max to
// numeric_limits<double>::min() (the smallest positive normal), which is a
// bug: any negative sample leaves max wrong. This port uses -Inf/+Inf, the
// correct identities for a min/max reduction.
func New() Kernel {
	return Kernel{
		Min: math.Inf(1),
		Max: math.Inf(-1),
	}
}

// Add folds one sample into the kernel.
func (k *Kernel) Add(v float64) {
	if v < k.Min {
		k.Min = v
	}
	if v > k.Max {
		k.Max = v
	}
	k.Sum += v
	k.Count++
}

// Reset returns the kernel to its birth state, for reuse after a block
// allocator Clear.
func (k *Kernel) Reset() {
	*k = New()
}
