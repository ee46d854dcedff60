package transactions

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Listing limits for the read-only query surface.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// recentWindow is the lookback for Metrics.TransactionsLast60s.
const recentWindow = 60 * time.Second

// Explainer recomputes the score explanation for a persisted transaction.
type Explainer interface {
	ExplainText(tx *Transaction) (string, error)
}

// Metrics summarizes the store for the dashboard.
type Metrics struct {
	TotalTransactions   int64   `json:"total_transactions"`
	TotalAlerts         int64   `json:"total_alerts"`
	TransactionsLast60s int64   `json:"transactions_last_60s"`
	PrecisionEstimate   float64 `json:"precision_estimate"`
}

// Service answers read-only queries against a Store. It runs concurrently
// with the simulation loop writing to the same Store.
type Service struct {
	store     Store
	explainer Explainer
	now       func() time.Time
}

// NewService creates a query service over store.
func NewService(store Store, explainer Explainer) *Service {
	return &Service{store: store, explainer: explainer, now: time.Now}
}

// Metrics returns totals, the last-minute transaction count and the share
// of alerts that are HIGH.
func (s *Service) Metrics(ctx context.Context) (*Metrics, error) {
	total, err := s.store.Count(ctx, EntityTransaction, Filter{})
	if err != nil {
		return nil, err
	}
	// Both alert counts come from one snapshot so highs never exceeds alerts.
	alerts, highs, err := s.store.CountAlerts(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.Count(ctx, EntityTransaction, Filter{Since: s.now().Add(-recentWindow)})
	if err != nil {
		return nil, err
	}

	return &Metrics{
		TotalTransactions:   total,
		TotalAlerts:         alerts,
		TransactionsLast60s: recent,
		PrecisionEstimate:   PrecisionEstimate(highs, alerts),
	}, nil
}

// PrecisionEstimate is highs/alerts rounded half-to-even to 3 decimal
// places, or 0 when there are no alerts.
func PrecisionEstimate(highs, alerts int64) float64 {
	if alerts <= 0 {
		return 0
	}
	return decimal.NewFromInt(highs).
		Div(decimal.NewFromInt(alerts)).
		RoundBank(3).
		InexactFloat64()
}

// ListTransactions returns the newest transactions first.
func (s *Service) ListTransactions(ctx context.Context, limit int) ([]*Transaction, error) {
	return s.store.ListTransactions(ctx, clampLimit(limit))
}

// ListAlerts returns the newest alerts first.
func (s *Service) ListAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	return s.store.ListAlerts(ctx, clampLimit(limit))
}

// Explain returns "Level X. Reasons: a; b" for a persisted transaction, or
// ErrNotFound.
func (s *Service) Explain(ctx context.Context, id int64) (string, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	text, err := s.explainer.ExplainText(tx)
	if err != nil {
		return "", fmt.Errorf("explain transaction %d: %w", id, err)
	}
	return text, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
