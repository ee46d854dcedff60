package transactions

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions []*Transaction // ascending by ID
	alerts       []*Alert       // ascending by ID
	byID         map[int64]*Transaction
	nextTxID     int64
	nextAlertID  int64
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[int64]*Transaction),
		nextTxID:    1,
		nextAlertID: 1,
	}
}

func (s *MemoryStore) Append(ctx context.Context, tx *Transaction, alert *Alert) error {
	if err := validatePair(tx, alert); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx.ID = s.nextTxID
	s.nextTxID++
	t := *tx
	s.transactions = append(s.transactions, &t)
	s.byID[t.ID] = &t

	if alert != nil {
		alert.ID = s.nextAlertID
		s.nextAlertID++
		alert.TransactionID = tx.ID
		alert.Timestamp = tx.Timestamp
		s.alerts = append(s.alerts, copyAlert(alert))
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}
	start := len(s.transactions) - limit
	if start < 0 {
		start = 0
	}
	result := make([]*Transaction, 0, len(s.transactions)-start)
	for i := len(s.transactions) - 1; i >= start; i-- {
		cp := *s.transactions[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}
	start := len(s.alerts) - limit
	if start < 0 {
		start = 0
	}
	result := make([]*Alert, 0, len(s.alerts)-start)
	for i := len(s.alerts) - 1; i >= start; i-- {
		result = append(result, copyAlert(s.alerts[i]))
	}
	return result, nil
}

func (s *MemoryStore) Count(ctx context.Context, entity Entity, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	switch entity {
	case EntityTransaction:
		for _, t := range s.transactions {
			if f.matches(t.Timestamp, t.Level) {
				n++
			}
		}
	case EntityAlert:
		for _, a := range s.alerts {
			if f.matches(a.Timestamp, a.Level) {
				n++
			}
		}
	default:
		return 0, fmt.Errorf("transactions: unknown entity %q", entity)
	}
	return n, nil
}

func (s *MemoryStore) CountAlerts(ctx context.Context) (total, high int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.Level == LevelHigh {
			high++
		}
	}
	return int64(len(s.alerts)), high, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func copyAlert(a *Alert) *Alert {
	cp := *a
	cp.Reasons = append([]string(nil), a.Reasons...)
	return &cp
}
