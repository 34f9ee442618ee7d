package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bursar/internal/dispatch"
	"bursar/internal/gateway"
	"bursar/internal/store"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

const sweepLimit = 100

// Reconciler polls the gateway for charges still marked waiting_payment and
// settles the ones the gateway reports as paid. It is the pull half of
// settlement; webhooks are the push half. Both converge on the same
// conditional transition, so a charge settles exactly once no matter which
// source wins.
type Reconciler struct {
	store      *store.Store
	gateway    *gateway.Client
	dispatcher *dispatch.Dispatcher
	logger     logging.Logger
	interval   time.Duration
	stopCh     chan struct{}

	sweeps      prometheus.Counter
	transitions *prometheus.CounterVec
}

func New(st *store.Store, gw *gateway.Client, dispatcher *dispatch.Dispatcher, logger logging.Logger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		store:      st,
		gateway:    gw,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// WithMetrics attaches a sweep counter and a paid-transition counter labeled
// by source.
func (r *Reconciler) WithMetrics(sweeps prometheus.Counter, transitions *prometheus.CounterVec) *Reconciler {
	r.sweeps = sweeps
	r.transitions = transitions
	return r
}

// Start begins the reconciliation loop
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.WithField("interval", r.interval.String()).Info("Starting payment reconciler")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopping due to context cancellation")
			return
		case <-r.stopCh:
			r.logger.Info("Reconciler stopping")
			return
		case <-ticker.C:
			if _, _, err := r.PollOnce(ctx); err != nil {
				r.logger.WithError(err).Warn("Reconciliation sweep failed")
			}
		}
	}
}

// Stop stops the reconciler
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// PollOnce runs a single sweep over the oldest waiting charges and reports
// how many were checked and how many settled. A gateway outage for one charge
// skips that charge; the sweep keeps going.
func (r *Reconciler) PollOnce(ctx context.Context) (checked, transitioned int, err error) {
	if r.sweeps != nil {
		r.sweeps.Inc()
	}

	charges, err := r.store.ListWaitingCharges(ctx, sweepLimit)
	if err != nil {
		return 0, 0, err
	}
	if len(charges) == 0 {
		return 0, 0, nil
	}

	r.logger.WithField("count", len(charges)).Debug("Reconciling waiting charges")

	for _, charge := range charges {
		checked++
		if r.reconcileCharge(ctx, charge) {
			transitioned++
		}
	}
	return checked, transitioned, nil
}

// reconcileCharge checks a single charge against the gateway and settles it
// if the gateway says it was paid. Returns true when this call performed the
// transition.
func (r *Reconciler) reconcileCharge(ctx context.Context, charge models.Charge) bool {
	remote, err := r.gateway.CheckCharge(ctx, charge.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			r.logger.WithError(err).WithField("charge_id", charge.ID).Warn("Gateway unreachable during sweep")
		} else {
			r.logger.WithError(err).WithField("charge_id", charge.ID).Error("Gateway rejected status check")
		}
		return false
	}

	if remote.Status != "PAID" {
		return false
	}

	applied, err := r.store.TransitionToPaid(ctx, charge.ID)
	if err != nil {
		r.logger.WithError(err).WithField("charge_id", charge.ID).Error("Failed to settle charge from sweep")
		return false
	}
	if !applied {
		// Webhook won the race; nothing left to do here.
		return false
	}

	r.logger.WithFields(logging.Fields{
		"charge_id": charge.ID,
		"owner_key": charge.OwnerKey,
		"amount":    charge.Amount,
	}).Info("Charge settled by reconciler")

	if r.transitions != nil {
		r.transitions.WithLabelValues("reconciler").Inc()
	}

	r.dispatcher.Dispatch(ctx, dispatch.Event{
		ChargeID:   charge.ID,
		OwnerKey:   charge.OwnerKey,
		Amount:     charge.Amount,
		Source:     "reconciler",
		Customer:   charge.Customer,
		Tracking:   charge.Tracking,
		OccurredAt: time.Now().UTC(),
	})
	return true
}
