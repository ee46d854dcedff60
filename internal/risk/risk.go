// Package risk implements fraud risk scoring for simulated payments.
//
// Every transaction is turned into a fixed 20-dimension feature vector and
// scored either by a pretrained anomaly model (when an artifact is loaded)
// or by a weighted heuristic over IP risk, device novelty and amount.
// Scores range from 0.0 (safe) to 1.0 (high risk) and map to LOW, MEDIUM
// or HIGH. A fixed rule list explains each score in plain words; the rules
// never change the score itself.
package risk

import (
	"errors"

	"github.com/mbd888/fraudradar/internal/transactions"
)

var ErrUnknownCategory = errors.New("risk: categorical value outside catalog")

// Level thresholds. Both are inclusive on the high side.
const (
	HighThreshold   = 0.75
	MediumThreshold = 0.45
)

// Heuristic weights used when no model is loaded.
const (
	weightIPRisk      = 0.6
	weightNewDevice   = 0.4
	weightLargeAmount = 0.15

	largeAmount = 500.0
)

// Mode identifies how a score was produced.
type Mode string

const (
	ModeModel     Mode = "model"
	ModeHeuristic Mode = "heuristic"
)

// Assessment is the scorer's verdict on one transaction.
type Assessment struct {
	Risk    float64            `json:"risk"`
	Level   transactions.Level `json:"level"`
	Reasons []string           `json:"reasons"`
	Mode    Mode               `json:"mode"`
}

// Model is a pretrained anomaly scorer. Decision returns the raw decision
// value for a feature vector; lower values are more anomalous.
type Model interface {
	Decision(vec []float64) float64
}

// LevelFor maps a risk score to its level.
func LevelFor(risk float64) transactions.Level {
	switch {
	case risk >= HighThreshold:
		return transactions.LevelHigh
	case risk >= MediumThreshold:
		return transactions.LevelMedium
	default:
		return transactions.LevelLow
	}
}

// Heuristic is the model-free score: 0.6*ip_risk + 0.4*[new device] +
// 0.15*[amount > 500], clamped to [0, 1].
func Heuristic(tx *transactions.Transaction) float64 {
	raw := weightIPRisk * tx.IPRisk
	if tx.IsNewDevice {
		raw += weightNewDevice
	}
	if tx.Amount > largeAmount {
		raw += weightLargeAmount
	}
	return clamp(raw)
}

func clamp(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0.0 {
		return 0.0
	}
	return v
}
