package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bursar/pkg/monitoring"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("bursar", "18040")

	if cfg.ServiceName != "bursar" {
		t.Errorf("Expected service name bursar, got %s", cfg.ServiceName)
	}
	if cfg.Port != "18040" {
		t.Errorf("Expected port 18040, got %s", cfg.Port)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("Expected 30s read timeout, got %v", cfg.ReadTimeout)
	}
}

func TestSetupServiceRouter(t *testing.T) {
	logger := testLogger()
	healthChecker := monitoring.NewHealthChecker("bursar", "test")
	metricsCollector := monitoring.NewMetricsCollector("bursar", "test", "test")

	router := SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", w.Code)
	}
}
