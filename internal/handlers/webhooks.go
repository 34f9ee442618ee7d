package handlers

import (
	"crypto/hmac"
	"errors"
	"net/http"
	"os"
	"time"

	"bursar/internal/dispatch"
	"bursar/internal/store"
	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"
)

// gatewayStatusPaid is the only webhook status that settles a charge. Every
// other value is rejected so a gateway schema change fails loudly instead of
// silently dropping payments.
const gatewayStatusPaid = "PAID"

// HandlePixWebhook processes payment notifications from the gateway. The
// response is 200 whether or not this delivery performed the transition:
// acknowledging a duplicate stops the gateway from redelivering it forever.
func HandlePixWebhook(c middleware.Context) {
	if !verifyWebhookSecret(c) {
		countWebhookRejection("bad_secret")
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "invalid webhook secret"})
		return
	}

	var payload bursarapi.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		countWebhookRejection("bad_payload")
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "invalid webhook payload"})
		return
	}
	if err := validator.ValidateWebhookPayload(&payload); err != nil {
		countWebhookRejection("bad_payload")
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	if payload.Status != gatewayStatusPaid {
		countWebhookRejection("unknown_status")
		logger.WithFields(logging.Fields{
			"charge_id": payload.ID,
			"status":    payload.Status,
		}).Warn("Webhook delivered unrecognized status")
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "unrecognized status"})
		return
	}

	applied, err := charges.TransitionToPaid(c.Request.Context(), payload.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			countWebhookRejection("unknown_charge")
			logger.WithField("charge_id", payload.ID).Warn("Webhook for unknown charge")
			c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "charge not found"})
			return
		}
		logger.WithError(err).WithField("charge_id", payload.ID).Error("Failed to settle charge from webhook")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "failed to process webhook"})
		return
	}

	if !applied {
		// Duplicate delivery or the reconciler won the race.
		c.JSON(http.StatusOK, map[string]bool{"received": true})
		return
	}

	charge, err := charges.GetCharge(c.Request.Context(), payload.ID)
	if err != nil {
		logger.WithError(err).WithField("charge_id", payload.ID).Error("Settled charge vanished before dispatch")
		c.JSON(http.StatusOK, map[string]bool{"received": true})
		return
	}

	logger.WithFields(logging.Fields{
		"charge_id": charge.ID,
		"owner_key": charge.OwnerKey,
		"amount":    charge.Amount,
	}).Info("Charge settled by webhook")

	if metrics != nil {
		metrics.PaidTransitions.WithLabelValues("webhook").Inc()
	}

	dispatcher.Dispatch(c.Request.Context(), dispatch.Event{
		ChargeID:   charge.ID,
		OwnerKey:   charge.OwnerKey,
		Amount:     charge.Amount,
		Source:     "webhook",
		Customer:   charge.Customer,
		Tracking:   charge.Tracking,
		OccurredAt: time.Now().UTC(),
	})

	c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// verifyWebhookSecret compares the shared secret header in constant time.
func verifyWebhookSecret(c middleware.Context) bool {
	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		logger.Error("WEBHOOK_SECRET not configured; rejecting webhook")
		return false
	}
	provided := c.GetHeader("X-Webhook-Secret")
	return hmac.Equal([]byte(secret), []byte(provided))
}

func countWebhookRejection(reason string) {
	if metrics != nil {
		metrics.WebhookRejections.WithLabelValues(reason).Inc()
	}
}
