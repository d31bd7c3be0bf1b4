package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// PermanentError marks carrier rejections that must not be retried
// (invalid recipient, rejected content). Everything else coming out of the
// client is transient: network faults, timeouts, 5xx, an open breaker.
type PermanentError struct {
	Status int
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("carrier rejected send (%d): %s", e.Status, e.Reason)
}

// IsPermanent reports whether err is a non-retryable carrier rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// SendRequest is one outbound message handed to the upstream gateway.
type SendRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"to"`
	Body      string `json:"body"`
	// Reference is echoed back by the gateway in callbacks for debugging;
	// correlation uses the gateway-assigned external id.
	Reference string `json:"reference,omitempty"`
}

// SendResult carries the gateway's acknowledgement of an accepted send.
type SendResult struct {
	ExternalID string `json:"id"`
}

// Gateway abstracts the upstream carrier so workers can be tested without a
// live endpoint.
type Gateway interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// Config tunes the HTTP client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the carrier gateway over HTTP, wrapped in a circuit
// breaker so a struggling upstream sheds load instead of tying up workers.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		panic("carrier base url is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	log := logger.With(zap.String("component", "carrier-client"))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "carrier-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("carrier circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  log,
	}
}

// Send submits one message to the gateway and returns its external id.
func (c *Client) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.send(ctx, req)
	})
	if err != nil {
		// Breaker-open and half-open rejections are transient by definition.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return SendResult{}, fmt.Errorf("carrier gateway unavailable: %w", err)
		}
		return SendResult{}, err
	}
	return out.(SendResult), nil
}

func (c *Client) send(ctx context.Context, req SendRequest) (SendResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("encode send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return SendResult{}, fmt.Errorf("carrier request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, fmt.Errorf("read carrier response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result SendResult
		if err := json.Unmarshal(body, &result); err != nil {
			return SendResult{}, fmt.Errorf("decode carrier response: %w", err)
		}
		if result.ExternalID == "" {
			return SendResult{}, errors.New("carrier response missing message id")
		}
		return result, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return SendResult{}, &PermanentError{Status: resp.StatusCode, Reason: rejectionReason(body)}

	default:
		return SendResult{}, fmt.Errorf("carrier returned status %d", resp.StatusCode)
	}
}

func rejectionReason(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	if len(body) > 0 {
		return string(body)
	}
	return "no reason given"
}

// Ensure interface compliance.
var _ Gateway = (*Client)(nil)
