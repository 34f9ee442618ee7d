package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"bursar/pkg/clients"
)

// ErrUnavailable indicates the gateway could not be reached or answered with a
// server error after retries were exhausted.
var ErrUnavailable = errors.New("payment gateway unavailable")

// APIError is a non-retryable gateway rejection (4xx).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway returned status %d", e.StatusCode)
}

// CustomerPayload is the payer profile in the gateway's wire format.
type CustomerPayload struct {
	Name      string `json:"name"`
	Cellphone string `json:"cellphone"`
	Email     string `json:"email"`
	TaxID     string `json:"taxId"`
}

// CreatePixRequest is the body for the pixQrCode/create endpoint.
type CreatePixRequest struct {
	Amount      int64           `json:"amount"`
	ExpiresIn   int             `json:"expiresIn"`
	Description string          `json:"description,omitempty"`
	Customer    CustomerPayload `json:"customer"`
}

// PixCharge is the gateway's view of a charge.
type PixCharge struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Status       string `json:"status"`
	BRCode       string `json:"brCode"`
	BRCodeBase64 string `json:"brCodeBase64"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}

type envelope struct {
	Data  *PixCharge `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
}

type Option func(*Client)

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	defaultConfig := clients.DefaultHTTPExecutorConfig()
	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 10 * time.Second},
		httpExecutor: clients.NewHTTPExecutor(defaultConfig),
		shouldRetry:  defaultConfig.ShouldRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

func WithHTTPExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		c.httpExecutor = clients.NewHTTPExecutor(cfg)
		c.shouldRetry = cfg.ShouldRetry
	}
}

func (c *Client) doRequest(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	return clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
}

// CreateCharge registers a new PIX charge with the gateway. The gateway owns
// identity: the returned PixCharge carries the id all later correlation uses.
func (c *Client) CreateCharge(ctx context.Context, req CreatePixRequest) (*PixCharge, error) {
	if req.ExpiresIn == 0 {
		req.ExpiresIn = 3600
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/pixQrCode/create", c.baseURL)
	resp, err := c.doRequest(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return decodeCharge(resp)
}

// CheckCharge fetches the gateway's current view of a charge by id.
func (c *Client) CheckCharge(ctx context.Context, id string) (*PixCharge, error) {
	endpoint := fmt.Sprintf("%s/v1/pixQrCode/check?id=%s", c.baseURL, url.QueryEscape(id))
	resp, err := c.doRequest(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		return httpReq, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return decodeCharge(resp)
}

func decodeCharge(resp *http.Response) (*PixCharge, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}

	if env.Data == nil {
		return nil, fmt.Errorf("%w: empty response body", ErrUnavailable)
	}
	return env.Data, nil
}
