package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"bursar/internal/dispatch"
	"bursar/internal/gateway"
	"bursar/internal/ledger"
	"bursar/internal/reconciler"
	"bursar/internal/store"
	"bursar/pkg/logging"
	"bursar/pkg/validation"
)

var (
	logger     logging.Logger
	charges    *store.Store
	funds      *ledger.Ledger
	payments   *gateway.Client
	dispatcher *dispatch.Dispatcher
	poller     *reconciler.Reconciler
	validator  *validation.ChargeValidator
	metrics    *BursarMetrics
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	ChargesCreated    prometheus.Counter
	PaidTransitions   *prometheus.CounterVec // labeled by source: webhook, reconciler
	WebhookRejections *prometheus.CounterVec // labeled by reason
	SinkDeliveries    *prometheus.CounterVec // labeled by sink
	SinkFailures      *prometheus.CounterVec // labeled by sink
	ReconcileSweeps   prometheus.Counter
	Withdrawals       *prometheus.CounterVec // labeled by result: admitted, rejected
	DBQueries         *prometheus.CounterVec
	DBDuration        *prometheus.HistogramVec
	DBConnections     *prometheus.GaugeVec
}

// Init initializes the handlers with storage, gateway, and dispatch wiring
func Init(log logging.Logger, chargeStore *store.Store, fundsLedger *ledger.Ledger,
	gatewayClient *gateway.Client, eventDispatcher *dispatch.Dispatcher,
	paymentPoller *reconciler.Reconciler, bursarMetrics *BursarMetrics) {
	logger = log
	charges = chargeStore
	funds = fundsLedger
	payments = gatewayClient
	dispatcher = eventDispatcher
	poller = paymentPoller
	validator = validation.NewChargeValidator()
	metrics = bursarMetrics
}
