// Package remote is the HTTP client for the remote transaction service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tallyapp/tally/internal/schema"
)

// ErrRemoteWrite matches every failure returned by the client, whether the
// service rejected the request or it never arrived.
var ErrRemoteWrite = errors.New("remote write failed")

// IdempotencyHeader carries the client's local ID on creates so a cooperating
// server can deduplicate retried writes.
const IdempotencyHeader = "Idempotency-Key"

// DefaultTimeout bounds every request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// WriteError is returned when the service answers with a non-success status.
type WriteError struct {
	StatusCode int
	Message    string
}

func (e *WriteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("remote service returned %d: %s", e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrRemoteWrite) true for every WriteError.
func (e *WriteError) Is(target error) bool {
	return target == ErrRemoteWrite
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to the remote transaction service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the service at cfg.BaseURL.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    hc,
	}
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type createResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateTransaction submits p and returns the identifier assigned by the
// service. A non-empty idempotencyKey is sent in the Idempotency-Key header.
func (c *Client) CreateTransaction(ctx context.Context, p schema.Payload, idempotencyKey string) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode payload: %w", ErrRemoteWrite, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRemoteWrite, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", readWriteError(resp)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", ErrRemoteWrite, err)
	}
	if out.ID == "" {
		return "", &WriteError{StatusCode: resp.StatusCode, Message: "response carried no transaction id"}
	}
	return out.ID, nil
}

// Health checks that the service is reachable and answering.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteWrite, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &WriteError{StatusCode: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %w", ErrRemoteWrite, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// readWriteError turns an unsuccessful response into a *WriteError, using
// the service's {"error": "..."} body when present.
func readWriteError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := strings.TrimSpace(string(data))
	var er errorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	return &WriteError{StatusCode: resp.StatusCode, Message: msg}
}
