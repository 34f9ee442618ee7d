package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// Event describes a settled payment. It is built once, after the paid
// transition is applied, and the same value goes to every sink.
type Event struct {
	ChargeID   string          `json:"charge_id"`
	OwnerKey   string          `json:"owner_key"`
	Amount     int64           `json:"amount"`
	Source     string          `json:"source"` // webhook or reconciler
	Customer   models.Customer `json:"customer"`
	Tracking   models.JSONB    `json:"tracking,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Sink receives payment events. Delivery is best effort: a sink error is the
// sink's problem, never the payment's.
type Sink interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher fans a payment event out to all registered sinks concurrently.
// There is no retry and no persistence; a failed delivery is logged, counted,
// and dropped.
type Dispatcher struct {
	sinks       []Sink
	logger      logging.Logger
	sinkTimeout time.Duration
	failures    *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
}

func NewDispatcher(logger logging.Logger, sinkTimeout time.Duration, sinks ...Sink) *Dispatcher {
	if sinkTimeout <= 0 {
		sinkTimeout = 5 * time.Second
	}
	return &Dispatcher{
		sinks:       sinks,
		logger:      logger,
		sinkTimeout: sinkTimeout,
	}
}

// WithMetrics attaches delivery counters, both labeled by sink.
func (d *Dispatcher) WithMetrics(deliveries, failures *prometheus.CounterVec) *Dispatcher {
	d.deliveries = deliveries
	d.failures = failures
	return d
}

// Dispatch delivers the event to every sink and waits for all of them. The
// caller decides when to dispatch; this method never decides whether.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	var wg sync.WaitGroup
	for _, sink := range d.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			d.deliver(ctx, sink, event)
		}(sink)
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, event Event) {
	sinkCtx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
	defer cancel()

	if err := sink.Notify(sinkCtx, event); err != nil {
		d.logger.WithFields(logging.Fields{
			"sink":      sink.Name(),
			"charge_id": event.ChargeID,
			"source":    event.Source,
		}).WithError(err).Warn("Sink notification failed")
		if d.failures != nil {
			d.failures.WithLabelValues(sink.Name()).Inc()
		}
		return
	}

	if d.deliveries != nil {
		d.deliveries.WithLabelValues(sink.Name()).Inc()
	}
}

// SinkCount reports how many sinks are registered.
func (d *Dispatcher) SinkCount() int {
	return len(d.sinks)
}
