package transactions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore persists transactions and alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions and alerts tables if they don't exist.
// The goose migrations under migrations/ define the same schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id               BIGSERIAL PRIMARY KEY,
			user_id          VARCHAR(64) NOT NULL,
			country          VARCHAR(8) NOT NULL,
			amount           DOUBLE PRECISION NOT NULL CHECK (amount >= 0),
			payment_method   VARCHAR(16) NOT NULL,
			device           VARCHAR(16) NOT NULL,
			ip_risk          DOUBLE PRECISION NOT NULL,
			account_age_days DOUBLE PRECISION NOT NULL CHECK (account_age_days >= 0),
			is_new_device    BOOLEAN NOT NULL,
			ts               DOUBLE PRECISION NOT NULL,
			risk             DOUBLE PRECISION NOT NULL CHECK (risk >= 0 AND risk <= 1),
			level            VARCHAR(6) NOT NULL CHECK (level IN ('LOW', 'MEDIUM', 'HIGH'))
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_ts ON transactions (ts);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions (user_id);

		CREATE TABLE IF NOT EXISTS alerts (
			id             BIGSERIAL PRIMARY KEY,
			transaction_id BIGINT NOT NULL UNIQUE REFERENCES transactions (id),
			level          VARCHAR(6) NOT NULL CHECK (level IN ('MEDIUM', 'HIGH')),
			reasons        JSONB NOT NULL,
			ts             DOUBLE PRECISION NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_level ON alerts (level);
		CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts (ts);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, tx *Transaction, alert *Alert) error {
	if err := validatePair(tx, alert); err != nil {
		return err
	}

	var reasonsJSON []byte
	if alert != nil {
		var err error
		reasonsJSON, err = json.Marshal(alert.Reasons)
		if err != nil {
			return fmt.Errorf("failed to marshal reasons: %w", err)
		}
	}

	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersist, err)
	}
	defer func() { _ = dbTx.Rollback() }()

	var txID int64
	err = dbTx.QueryRowContext(ctx, `
		INSERT INTO transactions (user_id, country, amount, payment_method, device,
			ip_risk, account_age_days, is_new_device, ts, risk, level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		tx.UserID,
		tx.Country,
		tx.Amount,
		tx.PaymentMethod,
		tx.Device,
		tx.IPRisk,
		tx.AccountAgeDays,
		tx.IsNewDevice,
		tx.Timestamp,
		tx.Risk,
		string(tx.Level),
	).Scan(&txID)
	if err != nil {
		return fmt.Errorf("%w: insert transaction: %w", ErrPersist, err)
	}

	var alertID int64
	if alert != nil {
		err = dbTx.QueryRowContext(ctx, `
			INSERT INTO alerts (transaction_id, level, reasons, ts)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, txID, string(alert.Level), reasonsJSON, tx.Timestamp).Scan(&alertID)
		if err != nil {
			return fmt.Errorf("%w: insert alert: %w", ErrPersist, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersist, err)
	}

	tx.ID = txID
	if alert != nil {
		alert.ID = alertID
		alert.TransactionID = txID
		alert.Timestamp = tx.Timestamp
	}
	return nil
}

const transactionColumns = `id, user_id, country, amount, payment_method, device,
	ip_risk, account_age_days, is_new_device, ts, risk, level`

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, level, reasons, ts
		FROM alerts
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Alert
	for rows.Next() {
		var a Alert
		var level string
		var reasonsJSON []byte
		if err := rows.Scan(&a.ID, &a.TransactionID, &level, &reasonsJSON, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Level = Level(level)
		if err := json.Unmarshal(reasonsJSON, &a.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode alert reasons: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, entity Entity, f Filter) (int64, error) {
	var table string
	switch entity {
	case EntityTransaction:
		table = "transactions"
	case EntityAlert:
		table = "alerts"
	default:
		return 0, fmt.Errorf("transactions: unknown entity %q", entity)
	}

	var (
		conds []string
		args  []interface{}
	)
	if !f.Since.IsZero() {
		args = append(args, EpochSeconds(f.Since))
		conds = append(conds, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if f.Level != "" {
		args = append(args, string(f.Level))
		conds = append(conds, fmt.Sprintf("level = $%d", len(args)))
	}

	query := "SELECT COUNT(*) FROM " + table // #nosec G202 -- table chosen from a fixed switch
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func (s *PostgresStore) CountAlerts(ctx context.Context) (total, high int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE level = 'HIGH') FROM alerts
	`).Scan(&total, &high)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return total, high, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var level string
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Country,
		&t.Amount,
		&t.PaymentMethod,
		&t.Device,
		&t.IPRisk,
		&t.AccountAgeDays,
		&t.IsNewDevice,
		&t.Timestamp,
		&t.Risk,
		&level,
	); err != nil {
		return nil, err
	}
	t.Level = Level(level)
	return &t, nil
}
