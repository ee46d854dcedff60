package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// eulerGamma is the Euler–Mascheroni constant used by the harmonic-number
// approximation in averagePathLength.
const eulerGamma = 0.5772156649015329

// Forest is an isolation forest exported from the offline training job.
// Decision follows the scikit-learn convention: score_samples - offset,
// where lower values are more anomalous.
type Forest struct {
	MaxSamples int     `json:"max_samples"`
	Offset     float64 `json:"offset"`
	NFeatures  int     `json:"n_features"`
	Trees      []Tree  `json:"trees"`
}

// Tree is one isolation tree in flat node-array form. Node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is an internal split (Left/Right >= 0) or a leaf (Left == -1).
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	NSamples  int     `json:"n_samples"`
}

// Compile-time check.
var _ Model = (*Forest)(nil)

// LoadForest reads a JSON forest artifact from path.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied model path
	if err != nil {
		return nil, err
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("risk: decode forest %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the forest is usable on VectorSize-long vectors.
func (f *Forest) Validate() error {
	if len(f.Trees) == 0 {
		return errors.New("risk: forest has no trees")
	}
	if f.MaxSamples < 1 {
		return errors.New("risk: forest max_samples must be positive")
	}
	if f.NFeatures != VectorSize {
		return fmt.Errorf("risk: forest expects %d features, vectors have %d", f.NFeatures, VectorSize)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("risk: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Left == -1 {
				continue
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("risk: tree %d node %d has invalid children", ti, ni)
			}
			if n.Feature < 0 || n.Feature >= f.NFeatures {
				return fmt.Errorf("risk: tree %d node %d splits on unknown feature %d", ti, ni, n.Feature)
			}
		}
	}
	return nil
}

// Decision returns the anomaly decision value for vec.
func (f *Forest) Decision(vec []float64) float64 {
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(vec)
	}
	mean := total / float64(len(f.Trees))
	score := -math.Pow(2, -mean/averagePathLength(f.MaxSamples))
	return score - f.Offset
}

// pathLength is the depth at which vec lands in a leaf, plus the expected
// remaining depth for the samples that leaf still held.
func (t *Tree) pathLength(vec []float64) float64 {
	idx, depth := 0, 0
	for {
		n := t.Nodes[idx]
		if n.Left == -1 {
			return float64(depth) + averagePathLength(n.NSamples)
		}
		if vec[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the average unsuccessful-search path length in
// a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	nf := float64(n)
	return 2.0*(math.Log(nf-1.0)+eulerGamma) - 2.0*(nf-1.0)/nf
}
