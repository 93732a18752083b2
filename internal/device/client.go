package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/metrics"
)

// Config contains device REST client configuration
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to the instrument's parameter REST API. Every parameter
// lives under /api/v1/<name>; responses use a common envelope.
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu sync.RWMutex
}

// envelope is the instrument's REST response wrapper.
type envelope struct {
	Status  string                     `json:"status"`
	Data    map[string]json.RawMessage `json:"data"`
	Message string                     `json:"message"`
	Details *ErrorDetails              `json:"details,omitempty"`
}

// ErrorDetails carries the structured error block the instrument returns
// alongside an "error" status.
type ErrorDetails struct {
	Code     string `json:"code,omitempty"`
	Field    string `json:"field,omitempty"`
	Expected string `json:"expected,omitempty"`
	Received string `json:"received,omitempty"`
}

// APIError is a non-success response from the instrument.
type APIError struct {
	StatusCode int
	Message    string
	Details    *ErrorDetails
}

func (e *APIError) Error() string {
	if e.Details != nil && e.Details.Code != "" {
		return fmt.Sprintf("device API error %d (%s): %s", e.StatusCode, e.Details.Code, e.Message)
	}
	return fmt.Sprintf("device API error %d: %s", e.StatusCode, e.Message)
}

// ClientStats represents device client statistics
type ClientStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
}

// NewClient creates a new device REST client. The metrics recorder may
// be nil.
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		metrics:    m,
	}, nil
}

// GetParameter reads a single parameter value from the instrument.
func (c *Client) GetParameter(ctx context.Context, name string) (json.RawMessage, error) {
	env, err := c.request(ctx, http.MethodGet, name, nil)
	if err != nil {
		return nil, err
	}
	value, ok := env.Data[name]
	if !ok {
		return nil, fmt.Errorf("parameter %q missing from response data", name)
	}
	return value, nil
}

// SetParameter writes a single parameter value to the instrument.
func (c *Client) SetParameter(ctx context.Context, name string, value any) error {
	body := map[string]any{name: value}
	_, err := c.request(ctx, http.MethodPost, name, body)
	return err
}

// GetInt reads an integer parameter.
func (c *Client) GetInt(ctx context.Context, name string) (int, error) {
	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return 0, err
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("parameter %q is not an integer: %w", name, err)
	}
	return v, nil
}

// GetFloat reads a floating point parameter.
func (c *Client) GetFloat(ctx context.Context, name string) (float64, error) {
	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("parameter %q is not a number: %w", name, err)
	}
	return v, nil
}

// GetString reads a string parameter.
func (c *Client) GetString(ctx context.Context, name string) (string, error) {
	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("parameter %q is not a string: %w", name, err)
	}
	return v, nil
}

// AscanLength reads the configured A-scan length in samples.
func (c *Client) AscanLength(ctx context.Context) (int, error) {
	return c.GetInt(ctx, "ascan_length")
}

// SetAscanLength configures the A-scan length in samples.
func (c *Client) SetAscanLength(ctx context.Context, n int) error {
	return c.SetParameter(ctx, "ascan_length", n)
}

// SamplingFreq reads the sampling frequency in MHz.
func (c *Client) SamplingFreq(ctx context.Context) (float64, error) {
	return c.GetFloat(ctx, "sampling_freq")
}

// SerialNumber reads the instrument serial number.
func (c *Client) SerialNumber(ctx context.Context) (string, error) {
	return c.GetString(ctx, "serial_number")
}

// FirmwareVersion reads the instrument firmware version.
func (c *Client) FirmwareVersion(ctx context.Context) (string, error) {
	return c.GetString(ctx, "firmware_version")
}

// StartAutoAscan starts continuous A-scan streaming on the instrument.
func (c *Client) StartAutoAscan(ctx context.Context) error {
	return c.SetParameter(ctx, "start_auto_ascan", true)
}

// StopAutoAscan stops continuous A-scan streaming.
func (c *Client) StopAutoAscan(ctx context.Context) error {
	return c.SetParameter(ctx, "stop_auto_ascan", true)
}

// request performs one API call with retries and exponential backoff.
func (c *Client) request(ctx context.Context, method, param string, body map[string]any) (*envelope, error) {
	startTime := time.Now()
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()
			c.metrics.RecordDeviceRetry()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 250 * time.Millisecond
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		env, err := c.doRequest(ctx, method, param, body)
		if err == nil {
			c.mu.Lock()
			c.successRequests++
			c.mu.Unlock()
			c.metrics.RecordDeviceRequest(true, time.Since(startTime).Seconds())
			return env, nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
	}

	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()
	c.metrics.RecordDeviceRequest(false, time.Since(startTime).Seconds())
	return nil, fmt.Errorf("device request %s %s failed: %w", method, param, lastErr)
}

func (c *Client) doRequest(ctx context.Context, method, param string, body map[string]any) (*envelope, error) {
	url := c.config.BaseURL + "/api/v1/" + param

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || env.Status != "success" {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    env.Message,
			Details:    env.Details,
		}
	}
	return &env, nil
}

// isRetryable reports whether a request should be retried. Structured API
// errors other than server-side failures are final.
func isRetryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode >= 500
	}
	return true
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		TotalRetries:    c.totalRetries,
	}
	if c.totalRequests > 0 {
		stats.SuccessRate = float64(c.successRequests) / float64(c.totalRequests)
	}
	return stats
}
