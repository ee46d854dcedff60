package risk

import "testing"

func TestNormalizer_SizeOneAlwaysOne(t *testing.T) {
	n := NewNormalizer(1)
	for _, raw := range []float64{0.3, -0.2, 0.9, 0.9} {
		if got := n.Observe(raw); got != 1.0 {
			t.Errorf("Observe(%v) = %v, want 1", raw, got)
		}
		if got := n.Peek(raw + 1); got != 1.0 {
			t.Errorf("Peek(%v) = %v, want 1", raw+1, got)
		}
	}
}

func TestNormalizer_ZeroSizeClampsToOne(t *testing.T) {
	if n := NewNormalizer(0); n.Size() != 1 {
		t.Errorf("expected size 1, got %d", n.Size())
	}
}

func TestNormalizer_EvictsOldest(t *testing.T) {
	n := NewNormalizer(2)
	n.Observe(-1.0) // evicted below
	n.Observe(0.0)
	// Window is now {0.0, 0.5}; -1.0 no longer widens the range.
	got := n.Observe(0.5)
	if got > 1e-6 {
		t.Errorf("max of window should map to ~0, got %v", got)
	}
	if got := n.Peek(0.0); got < 0.999 {
		t.Errorf("min of prospective window should map to ~1, got %v", got)
	}
}

func TestNormalizer_PeekDoesNotRecord(t *testing.T) {
	n := NewNormalizer(4)
	n.Observe(0.1)
	n.Observe(0.2)

	before := n.Peek(0.15)
	_ = n.Peek(-5) // would widen the range if recorded
	after := n.Peek(0.15)
	if before != after {
		t.Errorf("Peek mutated window: %v then %v", before, after)
	}
}

func TestNormalizer_PeekMatchesObserve(t *testing.T) {
	n := NewNormalizer(3)
	for _, raw := range []float64{0.4, -0.3, 0.05, 0.2, -0.1} {
		want := n.Peek(raw)
		if got := n.Observe(raw); got != want {
			t.Errorf("raw %v: Peek %v != Observe %v", raw, want, got)
		}
	}
}
