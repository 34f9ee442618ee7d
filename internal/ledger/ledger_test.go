package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"bursar/pkg/models"
)

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(db, logger), mock
}

func TestBalance_DerivedFromRows(t *testing.T) {
	l, mock := newTestLedger(t)

	// Two paid charges (5000 + 3000) and one pending withdrawal (2000).
	mock.ExpectQuery("SELECT").
		WithArgs("merchant-1").
		WillReturnRows(sqlmock.NewRows([]string{"total_paid", "total_withdrawn"}).
			AddRow(8000, 2000))

	balance, err := l.Balance(context.Background(), "merchant-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance.Available != 6000 {
		t.Errorf("expected available 6000, got %d", balance.Available)
	}
	if balance.TotalPaid != 8000 {
		t.Errorf("expected total paid 8000, got %d", balance.TotalPaid)
	}
	if balance.TotalWithdrawn != 2000 {
		t.Errorf("expected total withdrawn 2000, got %d", balance.TotalWithdrawn)
	}
}

func TestBalance_EmptyOwner(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectQuery("SELECT").
		WithArgs("merchant-empty").
		WillReturnRows(sqlmock.NewRows([]string{"total_paid", "total_withdrawn"}).
			AddRow(0, 0))

	balance, err := l.Balance(context.Background(), "merchant-empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance.Available != 0 {
		t.Errorf("expected zero balance, got %d", balance.Available)
	}
}

func expectAdmission(mock sqlmock.Sqlmock, ownerKey string, amount int64, inserted int64) {
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(ownerKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO bursar.withdrawals").
		WithArgs(sqlmock.AnyArg(), ownerKey, amount, "maria@example.com", models.WithdrawalStatusPending).
		WillReturnResult(sqlmock.NewResult(0, inserted))
}

func TestRequestWithdrawal_Admitted(t *testing.T) {
	l, mock := newTestLedger(t)

	// Available 6000: exactly-equal request drains the balance to zero.
	expectAdmission(mock, "merchant-1", 6000, 1)
	now := time.Now()
	mock.ExpectQuery("SELECT id, owner_key, amount, destination_key").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_key", "amount", "destination_key", "status", "created_at", "updated_at",
		}).AddRow("w-1", "merchant-1", 6000, "maria@example.com", models.WithdrawalStatusPending, now, now))
	mock.ExpectCommit()

	w, err := l.RequestWithdrawal(context.Background(), "merchant-1", 6000, "maria@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Status != models.WithdrawalStatusPending {
		t.Errorf("expected pending status, got %s", w.Status)
	}
	if w.Amount != 6000 {
		t.Errorf("expected amount 6000, got %d", w.Amount)
	}
}

func TestRequestWithdrawal_InsufficientBalance(t *testing.T) {
	l, mock := newTestLedger(t)

	// Available 6000: asking for one unit more inserts nothing.
	expectAdmission(mock, "merchant-1", 6001, 0)
	mock.ExpectRollback()

	_, err := l.RequestWithdrawal(context.Background(), "merchant-1", 6001, "maria@example.com")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestRequestWithdrawal_RollbackOnLockError(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("merchant-1").
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	_, err := l.RequestWithdrawal(context.Background(), "merchant-1", 2000, "maria@example.com")
	if err == nil {
		t.Fatal("expected error when lock acquisition fails")
	}
	if errors.Is(err, ErrInsufficientBalance) {
		t.Fatal("lock failure must not masquerade as insufficient balance")
	}
}

func TestListWithdrawals(t *testing.T) {
	l, mock := newTestLedger(t)

	now := time.Now()
	mock.ExpectQuery("SELECT id, owner_key, amount, destination_key").
		WithArgs("merchant-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_key", "amount", "destination_key", "status", "created_at", "updated_at",
		}).
			AddRow("w-2", "merchant-1", 2000, "maria@example.com", models.WithdrawalStatusPending, now, now).
			AddRow("w-1", "merchant-1", 3000, "maria@example.com", models.WithdrawalStatusTransferred, now, now))

	withdrawals, err := l.ListWithdrawals(context.Background(), "merchant-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(withdrawals) != 2 {
		t.Fatalf("expected 2 withdrawals, got %d", len(withdrawals))
	}
}
