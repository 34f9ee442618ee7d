package bursar

import "bursar/pkg/models"

// CustomerInput is the payer profile supplied at charge creation
type CustomerInput struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required"`
	TaxID string `json:"tax_id" validate:"required"`
}

// CreateChargeRequest represents a request to create a PIX charge
type CreateChargeRequest struct {
	Amount      int64          `json:"amount" validate:"required,min=2000,max=200000"`
	Description string         `json:"description,omitempty"`
	Customer    CustomerInput  `json:"customer" validate:"required"`
	Tracking    map[string]any `json:"tracking,omitempty"`
}

// ChargeResponse represents a charge returned to the merchant
type ChargeResponse = models.Charge

// ListChargesResponse represents the response from the charge listing API
type ListChargesResponse struct {
	Charges []models.Charge `json:"charges"`
	Count   int             `json:"count"`
}

// WebhookPayload is the gateway's payment notification body
type WebhookPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// BalanceResponse represents the derived ledger position for an owner
type BalanceResponse = models.Balance

// WithdrawalRequest represents a request to withdraw settled funds
type WithdrawalRequest struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	DestinationKey string `json:"destination_key" validate:"required"`
}

// WithdrawalResponse represents an admitted withdrawal
type WithdrawalResponse = models.Withdrawal

// ReconcileResponse represents the outcome of a reconciliation sweep
type ReconcileResponse struct {
	Checked      int    `json:"checked"`
	Transitioned int    `json:"transitioned"`
	Error        string `json:"error,omitempty"`
}

// ErrorResponse represents a standard error response from Bursar
type ErrorResponse struct {
	Error string `json:"error"`
}
