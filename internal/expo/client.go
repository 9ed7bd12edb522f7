// Package expo implements a minimal client for the Expo push gateway:
// single and batched sends, ticket parsing, and bounded retry with
// linear backoff.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stridecampus/internal/logger"
)

const (
	DefaultBaseURL = "https://exp.host/--/api/v2"

	// The gateway accepts at most this many messages per request.
	MaxBatchSize = 100

	defaultMaxAttempts = 3
	defaultRetryBase   = 500 * time.Millisecond
)

// ErrDeviceNotRegistered is the gateway error code meaning the token is
// permanently dead (app uninstalled, token revoked).
const ErrDeviceNotRegistered = "DeviceNotRegistered"

// IsExpoToken reports whether the token lexically matches the gateway's
// issued format. Anything else is treated as invalid and never sent.
func IsExpoToken(token string) bool {
	for _, prefix := range []string{"ExponentPushToken[", "ExpoPushToken["} {
		if strings.HasPrefix(token, prefix) && strings.HasSuffix(token, "]") && len(token) > len(prefix)+1 {
			return true
		}
	}
	return false
}

// Message is one push request entry, shaped after the gateway's JSON body.
type Message struct {
	To        string            `json:"to"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Sound     string            `json:"sound,omitempty"`
	Priority  string            `json:"priority,omitempty"`
	ChannelID string            `json:"channelId,omitempty"`
}

// Ticket is the gateway's per-message result.
type Ticket struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

func (t *Ticket) OK() bool { return t.Status == "ok" }

// ErrorCode returns the gateway error code ("DeviceNotRegistered", ...) or
// empty for successful tickets.
func (t *Ticket) ErrorCode() string { return t.Details.Error }

type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	retryBase   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (tests use httptest servers).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry overrides the retry policy. Attempts <= 0 keeps the default.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if base > 0 {
			c.retryBase = base
		}
	}
}

// NewClient creates a gateway client. baseURL empty uses the public gateway.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers a single message and returns its ticket.
// Transport and non-2xx failures are retried up to the attempt limit with
// delay = base × attempt; a gateway-level error ticket is not retried (the
// request itself succeeded).
func (c *Client) Send(ctx context.Context, msg Message) (*Ticket, error) {
	tickets, err := c.SendBatch(ctx, []Message{msg})
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, fmt.Errorf("expo: empty ticket response")
	}
	return &tickets[0], nil
}

// SendBatch delivers messages in gateway-sized chunks and returns one ticket
// per message, in input order.
func (c *Client) SendBatch(ctx context.Context, msgs []Message) ([]Ticket, error) {
	defer logger.DeferLogDuration("expo.SendBatch", time.Now())()
	tickets := make([]Ticket, 0, len(msgs))
	for start := 0; start < len(msgs); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		chunk, err := c.post(ctx, msgs[start:end])
		if err != nil {
			return tickets, err
		}
		tickets = append(tickets, chunk...)
	}
	return tickets, nil
}

func (c *Client) post(ctx context.Context, msgs []Message) ([]Ticket, error) {
	body, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("expo: marshal: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			// Linear backoff: base × attempt number, awaited between tries.
			select {
			case <-time.After(c.retryBase * time.Duration(attempt-1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		tickets, err := c.doPost(ctx, body)
		if err == nil {
			return tickets, nil
		}
		lastErr = err
		logger.Errorf("expo send attempt %d/%d: %v", attempt, c.maxAttempts, err)
	}
	return nil, lastErr
}

func (c *Client) doPost(ctx context.Context, body []byte) ([]Ticket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("expo: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("expo: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("expo: gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	// The gateway wraps tickets in {"data": ...}; a single message may come
	// back as a bare object rather than an array.
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("expo: decode response: %w", err)
	}
	var tickets []Ticket
	if err := json.Unmarshal(wrapper.Data, &tickets); err != nil {
		var single Ticket
		if err2 := json.Unmarshal(wrapper.Data, &single); err2 != nil {
			return nil, fmt.Errorf("expo: decode tickets: %w", err)
		}
		tickets = []Ticket{single}
	}
	return tickets, nil
}
