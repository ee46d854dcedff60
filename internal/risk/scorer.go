package risk

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/mbd888/fraudradar/internal/transactions"
)

// Scorer scores transactions with a loaded model or, without one, the
// heuristic. It is safe for concurrent use: Score comes from the simulation
// loop while Explain serves HTTP readers.
type Scorer struct {
	model      Model
	normalizer *Normalizer
	strict     bool
}

// NewScorer creates a scorer. A nil model selects the heuristic for the
// scorer's whole lifetime.
func NewScorer(model Model) *Scorer {
	s := &Scorer{
		model:      model,
		normalizer: NewNormalizer(DefaultWindowSize),
	}
	if model != nil {
		modelLoaded.Set(1)
	} else {
		modelLoaded.Set(0)
	}
	return s
}

// NewScorerFromFile loads the forest artifact at path. A missing or broken
// artifact is never fatal: the scorer falls back to the heuristic and the
// problem is logged.
func NewScorerFromFile(path string, logger *slog.Logger) *Scorer {
	if path == "" {
		logger.Info("no model path configured, using heuristic scoring")
		return NewScorer(nil)
	}
	forest, err := LoadForest(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("model artifact not found, using heuristic scoring", "path", path)
		return NewScorer(nil)
	case err != nil:
		logger.Warn("model artifact unusable, using heuristic scoring", "path", path, "error", err)
		return NewScorer(nil)
	}
	logger.Info("anomaly model loaded", "path", path, "trees", len(forest.Trees))
	return NewScorer(forest)
}

// WithStrictCatalog makes out-of-catalog categorical values an error
// instead of an all-zero one-hot block.
func (s *Scorer) WithStrictCatalog() *Scorer {
	s.strict = true
	return s
}

// WithWindow sets how many recent decision values normalize model scores.
func (s *Scorer) WithWindow(size int) *Scorer {
	s.normalizer = NewNormalizer(size)
	return s
}

// Window returns the normalization window size.
func (s *Scorer) Window() int {
	return s.normalizer.Size()
}

// Mode reports whether scores come from the model or the heuristic.
func (s *Scorer) Mode() Mode {
	if s.model == nil {
		return ModeHeuristic
	}
	return ModeModel
}

// Score evaluates a freshly generated transaction. In model mode the raw
// decision value joins the normalization window.
func (s *Scorer) Score(tx *transactions.Transaction) (*Assessment, error) {
	a, err := s.assess(tx, true)
	if err != nil {
		return nil, err
	}
	scoresTotal.WithLabelValues(string(a.Mode), string(a.Level)).Inc()
	riskScores.Observe(a.Risk)
	return a, nil
}

// Explain recomputes the assessment of a persisted transaction without
// touching scorer state, so repeated calls return identical results.
func (s *Scorer) Explain(tx *transactions.Transaction) (*Assessment, error) {
	return s.assess(tx, false)
}

// ExplainText renders Explain as "Level X. Reasons: a; b".
func (s *Scorer) ExplainText(tx *transactions.Transaction) (string, error) {
	a, err := s.Explain(tx)
	if err != nil {
		return "", err
	}
	return FormatExplanation(a.Level, a.Reasons), nil
}

func (s *Scorer) assess(tx *transactions.Transaction, record bool) (*Assessment, error) {
	vec, err := Vectorize(tx, s.strict)
	if err != nil {
		return nil, err
	}

	var risk float64
	if s.model == nil {
		risk = Heuristic(tx)
	} else {
		raw := s.model.Decision(vec)
		if record {
			risk = s.normalizer.Observe(raw)
		} else {
			risk = s.normalizer.Peek(raw)
		}
	}

	return &Assessment{
		Risk:    risk,
		Level:   LevelFor(risk),
		Reasons: Reasons(tx),
		Mode:    s.Mode(),
	}, nil
}
