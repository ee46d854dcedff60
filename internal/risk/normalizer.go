package risk

import "sync"

// DefaultWindowSize is the number of recent decision values the normalizer
// keeps. A size of 1 normalizes every value against itself only, which
// always yields 1.0.
const DefaultWindowSize = 512

const normEpsilon = 1e-9

// Normalizer maps raw model decision values to [0, 1] risk by min-max
// scaling against a rolling window of recent values. Lower decision values
// are more anomalous and map to higher risk.
type Normalizer struct {
	mu     sync.Mutex
	values []float64 // ring buffer
	next   int
	filled int
}

// NewNormalizer creates a normalizer over the last size decision values.
func NewNormalizer(size int) *Normalizer {
	if size < 1 {
		size = 1
	}
	return &Normalizer{values: make([]float64, size)}
}

// Size returns the window capacity.
func (n *Normalizer) Size() int {
	return len(n.values)
}

// Observe records raw in the window and returns its risk against the
// window's last Size() values, raw included.
func (n *Normalizer) Observe(raw float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.values[n.next] = raw
	n.next = (n.next + 1) % len(n.values)
	if n.filled < len(n.values) {
		n.filled++
	}
	lo, hi := n.bounds(raw, n.filled, -1)
	return normalize(raw, lo, hi)
}

// Peek returns the risk Observe would return for raw, without recording it.
func (n *Normalizer) Peek(raw float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	// Observe would evict the oldest entry once the window is full.
	count := n.filled
	skip := -1
	if count == len(n.values) {
		skip = n.next
	}
	lo, hi := n.bounds(raw, count, skip)
	return normalize(raw, lo, hi)
}

// bounds returns min and max over raw plus the first count slots of the
// ring, excluding slot skip. Caller must hold n.mu.
func (n *Normalizer) bounds(raw float64, count, skip int) (float64, float64) {
	lo, hi := raw, raw
	for i := 0; i < count; i++ {
		if i == skip {
			continue
		}
		v := n.values[i]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func normalize(raw, lo, hi float64) float64 {
	return clamp(1.0 - (raw-lo)/(hi-lo+normEpsilon))
}
