// Package transactions holds the fraud radar's record of scored payments.
//
// Every simulated payment becomes exactly one Transaction. Payments scored
// MEDIUM or HIGH also get exactly one Alert, written in the same atomic unit
// as the transaction it points at. Both are append-only: nothing is updated
// or deleted after insert.
package transactions

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	ErrNotFound     = errors.New("transactions: not found")
	ErrPersist      = errors.New("transactions: write failed")
	ErrInvalidAlert = errors.New("transactions: alert does not match transaction level")
)

// Level is the discrete risk bucket derived from a risk score.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Alerting reports whether a transaction at this level must carry an alert.
func (l Level) Alerting() bool {
	return l == LevelMedium || l == LevelHigh
}

// Valid reports whether l is one of the three known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	}
	return false
}

// Fixed categorical catalogs. Order matters: it defines the one-hot layout
// of the scoring vector.
var (
	Countries      = []string{"AR", "BR", "CL", "UY", "MX", "CO", "PE"}
	PaymentMethods = []string{"card", "pix", "boleto", "transfer", "wallet"}
	Devices        = []string{"android", "ios", "web-desktop", "web-mobile"}
)

// Transaction is one simulated payment plus its score.
type Transaction struct {
	ID             int64   `json:"id"`
	UserID         string  `json:"user_id"`
	Country        string  `json:"country"`
	Amount         float64 `json:"amount"`
	PaymentMethod  string  `json:"payment_method"`
	Device         string  `json:"device"`
	IPRisk         float64 `json:"ip_risk"`
	AccountAgeDays float64 `json:"account_age_days"`
	IsNewDevice    bool    `json:"is_new_device"`
	Timestamp      float64 `json:"ts"` // epoch seconds
	Risk           float64 `json:"risk"`
	Level          Level   `json:"level"`
}

// Time converts the epoch-seconds timestamp to a time.Time.
func (t *Transaction) Time() time.Time {
	sec, frac := math.Modf(t.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Alert flags a MEDIUM or HIGH transaction with the reasons behind it.
type Alert struct {
	ID            int64    `json:"id"`
	TransactionID int64    `json:"transaction_id"`
	Level         Level    `json:"level"`
	Reasons       []string `json:"reasons"`
	Timestamp     float64  `json:"ts"`
}

// EpochSeconds converts t to the fractional epoch seconds stored in records.
func EpochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Entity selects which record kind a count runs over.
type Entity string

const (
	EntityTransaction Entity = "transaction"
	EntityAlert       Entity = "alert"
)

// Filter narrows a count. The zero value counts everything.
type Filter struct {
	Since time.Time // only records with timestamp >= Since
	Level Level     // only records at this level
}

func (f Filter) matches(ts float64, level Level) bool {
	if !f.Since.IsZero() && ts < EpochSeconds(f.Since) {
		return false
	}
	if f.Level != "" && level != f.Level {
		return false
	}
	return true
}

// Store persists transactions and alerts. One writer, many readers.
type Store interface {
	// Append writes tx and, when alert is non-nil, its alert as one atomic
	// unit. It assigns tx.ID and alert.ID, and copies the transaction's ID
	// and timestamp onto the alert. Readers never observe one without the
	// other.
	Append(ctx context.Context, tx *Transaction, alert *Alert) error
	Get(ctx context.Context, id int64) (*Transaction, error)
	// ListTransactions and ListAlerts return at most limit records, newest
	// first. A limit <= 0 yields an empty result.
	ListTransactions(ctx context.Context, limit int) ([]*Transaction, error)
	ListAlerts(ctx context.Context, limit int) ([]*Alert, error)
	Count(ctx context.Context, entity Entity, f Filter) (int64, error)
	// CountAlerts returns the total and HIGH alert counts from a single
	// consistent snapshot.
	CountAlerts(ctx context.Context) (total, high int64, err error)
	Ping(ctx context.Context) error
}

// validatePair enforces level != LOW <=> alert present.
func validatePair(tx *Transaction, alert *Alert) error {
	if tx == nil {
		return errors.New("transactions: nil transaction")
	}
	if !tx.Level.Valid() {
		return ErrInvalidAlert
	}
	if tx.Level.Alerting() != (alert != nil) {
		return ErrInvalidAlert
	}
	if alert == nil {
		return nil
	}
	if alert.Level != tx.Level || len(alert.Reasons) == 0 {
		return ErrInvalidAlert
	}
	return nil
}
