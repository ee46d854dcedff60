package risk

import (
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// testForest isolates large amounts (feature 0) after a single split.
func testForest() *Forest {
	return &Forest{
		MaxSamples: 256,
		Offset:     -0.5,
		NFeatures:  VectorSize,
		Trees: []Tree{
			{Nodes: []Node{
				{Feature: 0, Threshold: 1000, Left: 1, Right: 2, NSamples: 256},
				{Left: -1, Right: -1, NSamples: 200},
				{Left: -1, Right: -1, NSamples: 1},
			}},
			{Nodes: []Node{
				{Feature: 1, Threshold: 0.95, Left: 1, Right: 2, NSamples: 256},
				{Left: -1, Right: -1, NSamples: 250},
				{Left: -1, Right: -1, NSamples: 6},
			}},
		},
	}
}

func TestAveragePathLength(t *testing.T) {
	if got := averagePathLength(1); got != 0 {
		t.Errorf("c(1) = %v, want 0", got)
	}
	if got := averagePathLength(2); got != 1 {
		t.Errorf("c(2) = %v, want 1", got)
	}
	// c(256) ≈ 10.2448 per the isolation forest paper.
	if got := averagePathLength(256); math.Abs(got-10.2448) > 1e-3 {
		t.Errorf("c(256) = %v, want ~10.2448", got)
	}
}

func TestForest_OutlierHasLowerDecision(t *testing.T) {
	f := testForest()
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	normal, _ := Vectorize(lowRiskTx(), true)
	outlier, _ := Vectorize(lowRiskTx(), true)
	outlier[0] = 5000

	dn, do := f.Decision(normal), f.Decision(outlier)
	if do >= dn {
		t.Errorf("outlier decision %v should be below normal decision %v", do, dn)
	}
}

func TestForest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Forest)
	}{
		{"no trees", func(f *Forest) { f.Trees = nil }},
		{"bad max samples", func(f *Forest) { f.MaxSamples = 0 }},
		{"wrong feature count", func(f *Forest) { f.NFeatures = 19 }},
		{"empty tree", func(f *Forest) { f.Trees[0].Nodes = nil }},
		{"child out of range", func(f *Forest) { f.Trees[0].Nodes[0].Right = 9 }},
		{"cycle", func(f *Forest) { f.Trees[0].Nodes[0].Left = 0 }},
		{"unknown feature", func(f *Forest) { f.Trees[1].Nodes[0].Feature = 20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testForest()
			tt.mutate(f)
			if err := f.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadForest_RoundTripFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	data, err := json.Marshal(testForest())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewScorerFromFile(path, slog.Default())
	if s.Mode() != ModeModel {
		t.Fatalf("expected model mode, got %s", s.Mode())
	}
}

func TestLoadForest_CorruptFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadForest(path); err == nil {
		t.Error("expected decode error")
	}
	if s := NewScorerFromFile(path, slog.Default()); s.Mode() != ModeHeuristic {
		t.Errorf("corrupt artifact should fall back to heuristic, got %s", s.Mode())
	}
}
