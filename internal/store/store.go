package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bursar/pkg/logging"
	"bursar/pkg/models"
)

var (
	// ErrNotFound indicates the charge id has never been seen.
	ErrNotFound = errors.New("charge not found")
	// ErrConflict indicates a charge id was re-registered with different attributes.
	ErrConflict = errors.New("charge already exists with different attributes")
)

const chargeColumns = `id, owner_key, amount, status, description,
	customer_name, customer_email, customer_phone, customer_tax_id,
	tracking, br_code, br_code_base64, created_at, status_updated_at`

// Store persists charges and withdrawals in Postgres. The charge id is
// gateway-assigned; the store never generates charge identity.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

func New(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateCharge registers a charge row. Re-registering the same id with the
// same owner and amount is a no-op; the same id with different attributes is
// a conflict.
func (s *Store) CreateCharge(ctx context.Context, charge *models.Charge) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO bursar.charges (
			id, owner_key, amount, status, description,
			customer_name, customer_email, customer_phone, customer_tax_id,
			tracking, br_code, br_code_base64, created_at, status_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING`,
		charge.ID, charge.OwnerKey, charge.Amount, charge.Status, charge.Description,
		charge.Customer.Name, charge.Customer.Email, charge.Customer.Phone, charge.Customer.TaxID,
		charge.Tracking, charge.BRCode, charge.BRCodeBase64)
	if err != nil {
		return fmt.Errorf("failed to insert charge: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if rows == 1 {
		return nil
	}

	// Row already present: accept only an exact duplicate registration.
	var ownerKey string
	var amount int64
	err = s.db.QueryRowContext(ctx,
		`SELECT owner_key, amount FROM bursar.charges WHERE id = $1`,
		charge.ID).Scan(&ownerKey, &amount)
	if err != nil {
		return fmt.Errorf("failed to load existing charge: %w", err)
	}
	if ownerKey != charge.OwnerKey || amount != charge.Amount {
		return ErrConflict
	}
	return nil
}

// GetCharge loads a single charge by its gateway id.
func (s *Store) GetCharge(ctx context.Context, id string) (*models.Charge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chargeColumns+` FROM bursar.charges WHERE id = $1`, id)

	charge, err := scanCharge(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load charge: %w", err)
	}
	return charge, nil
}

// TransitionToPaid flips a waiting charge to paid. The returned flag reports
// whether this call performed the transition; concurrent observers of an
// already-settled charge get applied=false with no error. Refunded charges
// never flip back.
func (s *Store) TransitionToPaid(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bursar.charges
		SET status = $1, status_updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.ChargeStatusPaid, id, models.ChargeStatusWaitingPayment)
	if err != nil {
		return false, fmt.Errorf("failed to transition charge: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read transition result: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bursar.charges WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check charge existence: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// MarkRefunded flips a paid charge to refunded. Only settled funds can be
// returned, so the update is conditional on the paid status.
func (s *Store) MarkRefunded(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bursar.charges
		SET status = $1, status_updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.ChargeStatusRefunded, id, models.ChargeStatusPaid)
	if err != nil {
		return false, fmt.Errorf("failed to mark charge refunded: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read refund result: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bursar.charges WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check charge existence: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// ListWaitingCharges returns the oldest unsettled charges, bounded so a
// reconciliation sweep stays a fixed-size unit of work.
func (s *Store) ListWaitingCharges(ctx context.Context, limit int) ([]models.Charge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chargeColumns+`
		FROM bursar.charges
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`,
		models.ChargeStatusWaitingPayment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting charges: %w", err)
	}
	defer rows.Close()

	return collectCharges(rows)
}

// ListCharges returns every charge belonging to an owner, newest first.
func (s *Store) ListCharges(ctx context.Context, ownerKey string) ([]models.Charge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chargeColumns+`
		FROM bursar.charges
		WHERE owner_key = $1
		ORDER BY created_at DESC`,
		ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list charges: %w", err)
	}
	defer rows.Close()

	return collectCharges(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCharge(row rowScanner) (*models.Charge, error) {
	var charge models.Charge
	var description, brCode, brCodeBase64 sql.NullString
	err := row.Scan(
		&charge.ID, &charge.OwnerKey, &charge.Amount, &charge.Status, &description,
		&charge.Customer.Name, &charge.Customer.Email, &charge.Customer.Phone, &charge.Customer.TaxID,
		&charge.Tracking, &brCode, &brCodeBase64,
		&charge.CreatedAt, &charge.StatusUpdatedAt)
	if err != nil {
		return nil, err
	}
	charge.Description = description.String
	charge.BRCode = brCode.String
	charge.BRCodeBase64 = brCodeBase64.String
	return &charge, nil
}

func collectCharges(rows *sql.Rows) ([]models.Charge, error) {
	var charges []models.Charge
	for rows.Next() {
		charge, err := scanCharge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan charge: %w", err)
		}
		charges = append(charges, *charge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate charges: %w", err)
	}
	return charges, nil
}
