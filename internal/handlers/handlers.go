package handlers

import (
	"errors"
	"net/http"

	"bursar/internal/gateway"
	"bursar/internal/ledger"
	"bursar/internal/store"
	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"
	"bursar/pkg/models"
)

// Merchant API Endpoints

// CreateCharge validates the request, registers the charge with the gateway,
// and persists the gateway's view of it. The gateway assigns identity; a
// charge we failed to persist is a charge the merchant never saw.
func CreateCharge(c middleware.Context) {
	ownerKey := c.GetString("owner_key")

	var req bursarapi.CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := validator.ValidateCreateCharge(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	remote, err := payments.CreateCharge(c.Request.Context(), gateway.CreatePixRequest{
		Amount:      req.Amount,
		Description: req.Description,
		Customer: gateway.CustomerPayload{
			Name:      req.Customer.Name,
			Cellphone: req.Customer.Phone,
			Email:     req.Customer.Email,
			TaxID:     req.Customer.TaxID,
		},
	})
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			logger.WithError(err).WithField("owner_key", ownerKey).Warn("Gateway rejected charge")
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: apiErr.Message})
			return
		}
		logger.WithError(err).WithField("owner_key", ownerKey).Error("Gateway unavailable for charge creation")
		c.JSON(http.StatusBadGateway, bursarapi.ErrorResponse{Error: "payment gateway unavailable"})
		return
	}

	charge := &models.Charge{
		ID:          remote.ID,
		OwnerKey:    ownerKey,
		Amount:      req.Amount,
		Status:      models.ChargeStatusWaitingPayment,
		Description: req.Description,
		Customer: models.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
			TaxID: req.Customer.TaxID,
		},
		Tracking:     models.JSONB(req.Tracking),
		BRCode:       remote.BRCode,
		BRCodeBase64: remote.BRCodeBase64,
	}

	if err := charges.CreateCharge(c.Request.Context(), charge); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, bursarapi.ErrorResponse{Error: "charge already exists with different attributes"})
			return
		}
		logger.WithError(err).WithFields(logging.Fields{
			"charge_id": remote.ID,
			"owner_key": ownerKey,
		}).Error("Failed to persist charge")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "failed to persist charge"})
		return
	}

	if metrics != nil {
		metrics.ChargesCreated.Inc()
	}

	logger.WithFields(logging.Fields{
		"charge_id": charge.ID,
		"owner_key": ownerKey,
		"amount":    charge.Amount,
	}).Info("Charge created")

	stored, err := charges.GetCharge(c.Request.Context(), charge.ID)
	if err != nil {
		// Row was just written; fall back to the in-memory view.
		c.JSON(http.StatusCreated, charge)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// ListCharges returns every charge belonging to the authenticated owner
func ListCharges(c middleware.Context) {
	ownerKey := c.GetString("owner_key")

	list, err := charges.ListCharges(c.Request.Context(), ownerKey)
	if err != nil {
		logger.WithError(err).WithField("owner_key", ownerKey).Error("Failed to list charges")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "failed to list charges"})
		return
	}

	if list == nil {
		list = []models.Charge{}
	}
	c.JSON(http.StatusOK, bursarapi.ListChargesResponse{Charges: list, Count: len(list)})
}

// GetCharge returns a single charge, scoped to the authenticated owner
func GetCharge(c middleware.Context) {
	ownerKey := c.GetString("owner_key")
	id := c.Param("id")

	charge, err := charges.GetCharge(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "charge not found"})
			return
		}
		logger.WithError(err).WithField("charge_id", id).Error("Failed to load charge")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "failed to load charge"})
		return
	}
	if charge.OwnerKey != ownerKey {
		// Do not leak existence of other owners' charges.
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "charge not found"})
		return
	}
	c.JSON(http.StatusOK, charge)
}

// GetBalance recomputes and returns the owner's ledger position
func GetBalance(c middleware.Context) {
	ownerKey := c.GetString("owner_key")

	balance, err := funds.Balance(c.Request.Context(), ownerKey)
	if err != nil {
		logger.WithError(err).WithField("owner_key", ownerKey).Error("Failed to compute balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "failed to compute balance"})
		return
	}
	c.JSON(http.StatusOK, balance)
}

// RequestWithdrawal admits a withdrawal against the owner's available balance
func RequestWithdrawal(c middleware.Context) {
	ownerKey := c.GetString("owner_key")

	var req bursarapi.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := validator.ValidateWithdrawal(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	withdrawal, err := funds.RequestWithdrawal(c.Request.Context(), ownerKey, req.Amount, req.DestinationKey)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			if metrics != nil {
				metrics.Withdrawals.WithLabelValues("rejected").Inc()
			}
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "insufficient balance"})
			return
		}
		logger.WithError(err).WithField("owner_key", ownerKey).Error("Failed to admit withdrawal")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "failed to admit withdrawal"})
		return
	}

	if metrics != nil {
		metrics.Withdrawals.WithLabelValues("admitted").Inc()
	}
	c.JSON(http.StatusCreated, withdrawal)
}

// ListWithdrawals returns the owner's withdrawal history
func ListWithdrawals(c middleware.Context) {
	ownerKey := c.GetString("owner_key")

	list, err := funds.ListWithdrawals(c.Request.Context(), ownerKey)
	if err != nil {
		logger.WithError(err).WithField("owner_key", ownerKey).Error("Failed to list withdrawals")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "failed to list withdrawals"})
		return
	}
	if list == nil {
		list = []models.Withdrawal{}
	}
	c.JSON(http.StatusOK, list)
}

// Service Endpoints

// RefundCharge flips a settled charge to refunded. Only paid charges can be
// refunded; the ledger reverses on the next balance read since the charge
// drops out of the paid sum. Protected by service token: refunds are an
// operator action mirrored from the gateway, not a merchant self-service.
func RefundCharge(c middleware.Context) {
	id := c.Param("id")

	applied, err := charges.MarkRefunded(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "charge not found"})
			return
		}
		logger.WithError(err).WithField("charge_id", id).Error("Failed to mark charge refunded")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "failed to refund charge"})
		return
	}
	if !applied {
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{Error: "charge is not in paid status"})
		return
	}

	logger.WithField("charge_id", id).Info("Charge refunded")
	c.JSON(http.StatusOK, map[string]bool{"refunded": true})
}

// Reconcile runs one reconciliation sweep on demand. Protected by service
// token; operators use it after a gateway incident instead of waiting for
// the next tick.
func Reconcile(c middleware.Context) {
	checked, transitioned, err := poller.PollOnce(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("On-demand reconciliation failed")
		c.JSON(http.StatusInternalServerError, bursarapi.ReconcileResponse{Error: "reconciliation sweep failed"})
		return
	}
	c.JSON(http.StatusOK, bursarapi.ReconcileResponse{Checked: checked, Transitioned: transitioned})
}
