package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPExecutor submits trades to an execution service as JSON over HTTP:
//
//	POST {endpoint}/trades  Idempotency-Key: <request_id>
//
// The service must treat repeated requests with the same key as one trade.
type HTTPExecutor struct {
	endpoint    string
	apiKey      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// HTTPOption configures HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPExecutor) {
		e.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) HTTPOption {
	return func(e *HTTPExecutor) {
		e.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) HTTPOption {
	return func(e *HTTPExecutor) {
		e.retryDelay = d
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) HTTPOption {
	return func(e *HTTPExecutor) {
		e.apiKey = key
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(e *HTTPExecutor) {
		e.client = client
	}
}

// NewHTTPExecutor creates an executor for endpoint.
func NewHTTPExecutor(endpoint string, opts ...HTTPOption) *HTTPExecutor {
	e := &HTTPExecutor{
		endpoint:    strings.TrimRight(endpoint, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type tradeRequestDTO struct {
	RequestID string  `json:"request_id"`
	AgentID   string  `json:"agent_id"`
	Chain     string  `json:"chain"`
	Wallet    string  `json:"wallet"`
	Token     string  `json:"token"`
	Side      string  `json:"side"`
	Amount    float64 `json:"amount,omitempty"`
	Quantity  float64 `json:"quantity,omitempty"`
	Price     float64 `json:"reference_price"`
}

type tradeResponseDTO struct {
	Status   string  `json:"status"` // filled | rejected
	TxID     string  `json:"tx_id"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Amount   float64 `json:"amount"`
	Error    string  `json:"error,omitempty"`
}

// ExecuteTrade implements Executor. Transport errors, 429 and 5xx are
// retried with exponential backoff under the same idempotency key.
func (e *HTTPExecutor) ExecuteTrade(ctx context.Context, req TradeRequest) (*Fill, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(tradeRequestDTO{
		RequestID: req.RequestID,
		AgentID:   req.AgentID,
		Chain:     req.Chain,
		Wallet:    req.Wallet,
		Token:     req.Token,
		Side:      req.Type,
		Amount:    req.Amount,
		Quantity:  req.Quantity,
		Price:     req.Price,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	delay := e.retryDelay
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * e.backoffMult)
			if delay > e.maxDelay {
				delay = e.maxDelay
			}
		}

		fill, retry, err := e.do(ctx, req.RequestID, body)
		if err == nil {
			return fill, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (e *HTTPExecutor) do(ctx context.Context, key string, body []byte) (*Fill, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/trades", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusConflict:
		return nil, false, fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(string(respBody)))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out tradeResponseDTO
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, false, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Status != "filled" {
		return nil, false, fmt.Errorf("%w: %s", ErrRejected, out.Error)
	}
	if out.Price <= 0 || out.Quantity <= 0 {
		return nil, false, fmt.Errorf("invalid fill: price=%v quantity=%v", out.Price, out.Quantity)
	}

	fill := &Fill{
		TxID:     out.TxID,
		Price:    out.Price,
		Quantity: out.Quantity,
		Amount:   out.Amount,
	}
	if fill.Amount <= 0 {
		fill.Amount = fill.Price * fill.Quantity
	}
	return fill, false, nil
}
