package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"bursar/pkg/api/bursar"
)

// ChargeValidator performs structural and domain validation for merchant
// requests before they reach the gateway or the ledger.
type ChargeValidator struct {
	validator *validator.Validate
}

// NewChargeValidator constructs a ChargeValidator with standard struct validation.
func NewChargeValidator() *ChargeValidator {
	return &ChargeValidator{
		validator: validator.New(),
	}
}

// ValidateCreateCharge checks the charge request envelope and normalizes the
// customer snapshot in place. Phone and tax ID are reduced to digits; a value
// with no digits at all is rejected.
func (v *ChargeValidator) ValidateCreateCharge(req *bursar.CreateChargeRequest) error {
	if err := v.validator.Struct(req); err != nil {
		return fmt.Errorf("charge validation failed: %w", err)
	}

	req.Customer.Name = strings.TrimSpace(req.Customer.Name)
	req.Customer.Email = strings.TrimSpace(req.Customer.Email)

	phone := SanitizeDigits(req.Customer.Phone)
	if phone == "" {
		return fmt.Errorf("customer phone must contain digits")
	}
	req.Customer.Phone = phone

	taxID := SanitizeDigits(req.Customer.TaxID)
	if taxID == "" {
		return fmt.Errorf("customer tax_id must contain digits")
	}
	req.Customer.TaxID = taxID

	return nil
}

// ValidateWithdrawal checks a withdrawal request envelope. Balance sufficiency
// is decided later, inside the ledger transaction.
func (v *ChargeValidator) ValidateWithdrawal(req *bursar.WithdrawalRequest) error {
	if err := v.validator.Struct(req); err != nil {
		return fmt.Errorf("withdrawal validation failed: %w", err)
	}
	if strings.TrimSpace(req.DestinationKey) == "" {
		return fmt.Errorf("destination_key must not be blank")
	}
	return nil
}

// ValidateWebhookPayload checks the gateway notification envelope. Status
// semantics (which values settle a charge) belong to the handler.
func (v *ChargeValidator) ValidateWebhookPayload(payload *bursar.WebhookPayload) error {
	if strings.TrimSpace(payload.ID) == "" {
		return fmt.Errorf("webhook payload missing charge id")
	}
	if strings.TrimSpace(payload.Status) == "" {
		return fmt.Errorf("webhook payload missing status")
	}
	return nil
}

// SanitizeDigits strips every non-digit rune, keeping formatted phone numbers
// and tax IDs comparable across sources.
func SanitizeDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
