package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"bursar/pkg/config"
	"bursar/pkg/logging"
)

// WebhookSink posts the payment event as JSON to a downstream consumer.
// Retries stay at zero: delivery here is advisory, and a consumer that needs
// certainty reads the charge list instead.
type WebhookSink struct {
	name   string
	url    string
	client *resty.Client
}

func NewWebhookSink(name, url string, timeout time.Duration) *WebhookSink {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "bursar-dispatch")

	return &WebhookSink{
		name:   name,
		url:    url,
		client: client,
	}
}

func (s *WebhookSink) Name() string {
	return s.name
}

func (s *WebhookSink) Notify(ctx context.Context, event Event) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", s.name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s returned status %d", s.name, resp.StatusCode())
	}
	return nil
}

// SinksFromEnv builds the configured sinks. Each sink is optional; an unset
// URL simply means that consumer does not exist in this deployment.
func SinksFromEnv(logger logging.Logger) []Sink {
	timeout := config.GetEnvDuration("SINK_TIMEOUT", 5*time.Second)

	var sinks []Sink
	for name, envKey := range map[string]string{
		"bookkeeping":    "BOOKKEEPING_SINK_URL",
		"attribution":    "ATTRIBUTION_SINK_URL",
		"operator-alert": "OPERATOR_ALERT_SINK_URL",
	} {
		url := config.GetEnv(envKey, "")
		if url == "" {
			continue
		}
		sinks = append(sinks, NewWebhookSink(name, url, timeout))
		logger.WithFields(logging.Fields{
			"sink": name,
			"url":  url,
		}).Info("Registered payment sink")
	}
	return sinks
}
