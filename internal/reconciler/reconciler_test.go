package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"bursar/internal/dispatch"
	"bursar/internal/gateway"
	"bursar/internal/store"
	"bursar/pkg/clients"
	"bursar/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type countingSink struct {
	calls int32
	last  atomic.Value
}

func (s *countingSink) Name() string { return "counting" }

func (s *countingSink) Notify(ctx context.Context, event dispatch.Event) error {
	atomic.AddInt32(&s.calls, 1)
	s.last.Store(event)
	return nil
}

func waitingChargeRows(ids ...string) *sqlmock.Rows {
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "owner_key", "amount", "status", "description",
		"customer_name", "customer_email", "customer_phone", "customer_tax_id",
		"tracking", "br_code", "br_code_base64", "created_at", "status_updated_at",
	})
	for _, id := range ids {
		rows.AddRow(id, "merchant-1", 5000, models.ChargeStatusWaitingPayment, "",
			"Maria Silva", "maria@example.com", "11940028922", "12345678901",
			nil, "brcode", "b64", now, now)
	}
	return rows
}

func newTestReconciler(t *testing.T, gatewayURL string, sink dispatch.Sink) (*Reconciler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	st := store.New(db, logger)
	gw := gateway.NewClient(gatewayURL, "test-key",
		gateway.WithHTTPExecutorConfig(clients.HTTPExecutorConfig{MaxRetries: 0}))
	d := dispatch.NewDispatcher(logger, time.Second, sink)
	return New(st, gw, d, logger, time.Minute), mock
}

func gatewayReporting(statuses map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		json.NewEncoder(w).Encode(map[string]any{
			"data": gateway.PixCharge{ID: id, Status: statuses[id]},
		})
	}))
}

func TestPollOnce_SettlesPaidCharges(t *testing.T) {
	srv := gatewayReporting(map[string]string{
		"pix_char_1": "PAID",
		"pix_char_2": "PENDING",
	})
	defer srv.Close()

	sink := &countingSink{}
	r, mock := newTestReconciler(t, srv.URL, sink)

	mock.ExpectQuery("SELECT (.+) FROM bursar.charges").
		WithArgs(models.ChargeStatusWaitingPayment, sweepLimit).
		WillReturnRows(waitingChargeRows("pix_char_1", "pix_char_2"))
	mock.ExpectExec("UPDATE bursar.charges").
		WithArgs(models.ChargeStatusPaid, "pix_char_1", models.ChargeStatusWaitingPayment).
		WillReturnResult(sqlmock.NewResult(0, 1))

	checked, transitioned, err := r.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checked != 2 {
		t.Errorf("expected 2 checked, got %d", checked)
	}
	if transitioned != 1 {
		t.Errorf("expected 1 transition, got %d", transitioned)
	}
	if got := atomic.LoadInt32(&sink.calls); got != 1 {
		t.Errorf("expected 1 sink notification, got %d", got)
	}

	event := sink.last.Load().(dispatch.Event)
	if event.Source != "reconciler" {
		t.Errorf("expected reconciler source, got %s", event.Source)
	}
	if event.ChargeID != "pix_char_1" {
		t.Errorf("expected pix_char_1, got %s", event.ChargeID)
	}
}

func TestPollOnce_LostRaceDispatchesNothing(t *testing.T) {
	srv := gatewayReporting(map[string]string{"pix_char_1": "PAID"})
	defer srv.Close()

	sink := &countingSink{}
	r, mock := newTestReconciler(t, srv.URL, sink)

	mock.ExpectQuery("SELECT (.+) FROM bursar.charges").
		WithArgs(models.ChargeStatusWaitingPayment, sweepLimit).
		WillReturnRows(waitingChargeRows("pix_char_1"))
	// The webhook settled this charge between the list and the update.
	mock.ExpectExec("UPDATE bursar.charges").
		WithArgs(models.ChargeStatusPaid, "pix_char_1", models.ChargeStatusWaitingPayment).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("pix_char_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, transitioned, err := r.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transitioned != 0 {
		t.Errorf("expected 0 transitions, got %d", transitioned)
	}
	if got := atomic.LoadInt32(&sink.calls); got != 0 {
		t.Errorf("expected no sink notifications after lost race, got %d", got)
	}
}

func TestPollOnce_GatewayOutageSkipsCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := &countingSink{}
	r, mock := newTestReconciler(t, srv.URL, sink)

	mock.ExpectQuery("SELECT (.+) FROM bursar.charges").
		WithArgs(models.ChargeStatusWaitingPayment, sweepLimit).
		WillReturnRows(waitingChargeRows("pix_char_1"))

	checked, transitioned, err := r.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep must survive gateway outage, got %v", err)
	}
	if checked != 1 || transitioned != 0 {
		t.Errorf("expected checked=1 transitioned=0, got %d/%d", checked, transitioned)
	}
}

func TestPollOnce_EmptyBacklog(t *testing.T) {
	sink := &countingSink{}
	r, mock := newTestReconciler(t, "http://gateway.invalid", sink)

	mock.ExpectQuery("SELECT (.+) FROM bursar.charges").
		WithArgs(models.ChargeStatusWaitingPayment, sweepLimit).
		WillReturnRows(waitingChargeRows())

	checked, transitioned, err := r.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checked != 0 || transitioned != 0 {
		t.Errorf("expected empty sweep, got %d/%d", checked, transitioned)
	}
}

func TestStartStop(t *testing.T) {
	sink := &countingSink{}
	r, _ := newTestReconciler(t, "http://gateway.invalid", sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	r.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
