package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// ErrInsufficientBalance indicates a withdrawal asked for more than the
// owner's available balance at admission time.
var ErrInsufficientBalance = errors.New("insufficient balance")

// balanceQuery recomputes the owner's position from raw rows. Paid charges
// credit; withdrawals debit while pending or transferred. Rejected
// withdrawals and refunded charges fall out of the sums naturally.
const balanceQuery = `
	SELECT
		COALESCE((SELECT SUM(amount) FROM bursar.charges
			WHERE owner_key = $1 AND status = 'paid'), 0) AS total_paid,
		COALESCE((SELECT SUM(amount) FROM bursar.withdrawals
			WHERE owner_key = $1 AND status IN ('pending', 'transferred')), 0) AS total_withdrawn`

// Ledger derives balances and admits withdrawals. No balance is ever stored;
// every answer is recomputed from charge and withdrawal rows.
type Ledger struct {
	db     *sql.DB
	logger logging.Logger
}

func New(db *sql.DB, logger logging.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Balance recomputes the owner's current position.
func (l *Ledger) Balance(ctx context.Context, ownerKey string) (*models.Balance, error) {
	var totalPaid, totalWithdrawn int64
	err := l.db.QueryRowContext(ctx, balanceQuery, ownerKey).Scan(&totalPaid, &totalWithdrawn)
	if err != nil {
		return nil, fmt.Errorf("failed to compute balance: %w", err)
	}

	return &models.Balance{
		OwnerKey:       ownerKey,
		Available:      totalPaid - totalWithdrawn,
		TotalPaid:      totalPaid,
		TotalWithdrawn: totalWithdrawn,
	}, nil
}

// RequestWithdrawal admits a withdrawal in a single transaction. An advisory
// lock keyed on the owner serializes admission per owner, so two concurrent
// requests cannot both read the same balance. The insert itself re-checks the
// balance; zero rows means the funds were not there.
func (l *Ledger) RequestWithdrawal(ctx context.Context, ownerKey string, amount int64, destinationKey string) (*models.Withdrawal, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin withdrawal transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerKey); err != nil {
		return nil, fmt.Errorf("failed to acquire owner lock: %w", err)
	}

	id := uuid.NewString()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.withdrawals (id, owner_key, amount, destination_key, status, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, NOW(), NOW()
		WHERE (
			COALESCE((SELECT SUM(amount) FROM bursar.charges
				WHERE owner_key = $2 AND status = 'paid'), 0)
			- COALESCE((SELECT SUM(amount) FROM bursar.withdrawals
				WHERE owner_key = $2 AND status IN ('pending', 'transferred')), 0)
		) >= $3`,
		id, ownerKey, amount, destinationKey, models.WithdrawalStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to insert withdrawal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read withdrawal result: %w", err)
	}
	if rows == 0 {
		return nil, ErrInsufficientBalance
	}

	var withdrawal models.Withdrawal
	err = tx.QueryRowContext(ctx, `
		SELECT id, owner_key, amount, destination_key, status, created_at, updated_at
		FROM bursar.withdrawals WHERE id = $1`, id).Scan(
		&withdrawal.ID, &withdrawal.OwnerKey, &withdrawal.Amount,
		&withdrawal.DestinationKey, &withdrawal.Status,
		&withdrawal.CreatedAt, &withdrawal.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load admitted withdrawal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit withdrawal: %w", err)
	}

	l.logger.WithFields(logging.Fields{
		"withdrawal_id": withdrawal.ID,
		"owner_key":     ownerKey,
		"amount":        amount,
	}).Info("Withdrawal admitted")

	return &withdrawal, nil
}

// ListWithdrawals returns the owner's withdrawals, newest first.
func (l *Ledger) ListWithdrawals(ctx context.Context, ownerKey string) ([]models.Withdrawal, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, owner_key, amount, destination_key, status, created_at, updated_at
		FROM bursar.withdrawals
		WHERE owner_key = $1
		ORDER BY created_at DESC`, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []models.Withdrawal
	for rows.Next() {
		var w models.Withdrawal
		err := rows.Scan(&w.ID, &w.OwnerKey, &w.Amount, &w.DestinationKey,
			&w.Status, &w.CreatedAt, &w.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate withdrawals: %w", err)
	}
	return withdrawals, nil
}
