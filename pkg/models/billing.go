package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Charge statuses as reported by the PIX gateway and stored locally.
const (
	ChargeStatusWaitingPayment = "waiting_payment"
	ChargeStatusPaid           = "paid"
	ChargeStatusRefunded       = "refunded"
)

// Withdrawal statuses.
const (
	WithdrawalStatusPending     = "pending"
	WithdrawalStatusTransferred = "transferred"
	WithdrawalStatusRejected    = "rejected"
)

// Amount bounds for a single PIX charge, in minor units (centavos).
const (
	MinChargeAmount = 2000
	MaxChargeAmount = 200000
)

// Customer is the payer snapshot captured at charge creation. It is stored
// denormalized on the charge row; later edits to a customer never rewrite
// history.
type Customer struct {
	Name  string `json:"name" db:"customer_name"`
	Email string `json:"email" db:"customer_email"`
	Phone string `json:"phone" db:"customer_phone"`
	TaxID string `json:"tax_id" db:"customer_tax_id"`
}

// Charge represents a PIX charge tracked through its lifecycle
type Charge struct {
	ID              string    `json:"id" db:"id"`
	OwnerKey        string    `json:"owner_key" db:"owner_key"`
	Amount          int64     `json:"amount" db:"amount"`
	Status          string    `json:"status" db:"status"`
	Description     string    `json:"description,omitempty" db:"description"`
	Customer        Customer  `json:"customer"`
	Tracking        JSONB     `json:"tracking,omitempty" db:"tracking"`
	BRCode          string    `json:"br_code" db:"br_code"`
	BRCodeBase64    string    `json:"br_code_base64" db:"br_code_base64"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	StatusUpdatedAt time.Time `json:"status_updated_at" db:"status_updated_at"`
}

// Withdrawal represents a request to move settled funds out of the ledger
type Withdrawal struct {
	ID             string    `json:"id" db:"id"`
	OwnerKey       string    `json:"owner_key" db:"owner_key"`
	Amount         int64     `json:"amount" db:"amount"`
	DestinationKey string    `json:"destination_key" db:"destination_key"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Balance is the derived ledger position for an owner. It is never stored;
// every read recomputes it from charge and withdrawal rows.
type Balance struct {
	OwnerKey       string `json:"owner_key"`
	Available      int64  `json:"available"`
	TotalPaid      int64  `json:"total_paid"`
	TotalWithdrawn int64  `json:"total_withdrawn"`
}
