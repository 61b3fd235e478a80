// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the backend API.
const (
	// DefaultTimeout is the default timeout for a single API request.
	DefaultTimeout = 30 * time.Second

	// DefaultPollInterval is the delay between job status checks.
	DefaultPollInterval = 2 * time.Second

	// DefaultMaxPollAttempts bounds how many status checks a poll makes
	// before giving up with a timeout error.
	DefaultMaxPollAttempts = 30

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 16 * 1024 * 1024 // 16MB; visualization payloads carry base64 images
)

// TokenProvider supplies the bearer token for each request. The client
// never reads ambient storage; the credential capability is injected.
type TokenProvider func() string

// Error variables for common client errors.
var (
	// ErrPollTimeout indicates the attempt budget was exhausted without a
	// terminal job status. Callers treat it identically to a job failure.
	ErrPollTimeout = errors.New("job polling timed out")

	// ErrPollCanceled indicates the poll was canceled before settling.
	ErrPollCanceled = errors.New("job polling canceled")
)

// APIError represents a non-success response from the backend.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

// Client is a client for the optiq backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenProvider

	pollInterval    time.Duration
	maxPollAttempts int

	// limiter paces status checks so a misconfigured poll interval
	// cannot hammer the backend.
	limiter *rate.Limiter

	// clock produces the inter-attempt delay channel; tests swap it to
	// avoid real sleeps.
	clock func(d time.Duration) <-chan time.Time
}

// NewClient creates a client for the given base URL (e.g.
// "https://api.optiq.dev"). A nil token provider is treated as "no token".
func NewClient(baseURL string, token TokenProvider) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		token:           token,
		pollInterval:    DefaultPollInterval,
		maxPollAttempts: DefaultMaxPollAttempts,
		limiter:         rate.NewLimiter(rate.Every(time.Second), 2),
		clock:           time.After,
	}
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithPollPolicy sets the poll interval and attempt cap. Non-positive
// values keep the defaults.
func (c *Client) WithPollPolicy(interval time.Duration, maxAttempts int) *Client {
	if interval > 0 {
		c.pollInterval = interval
	}
	if maxAttempts > 0 {
		c.maxPollAttempts = maxAttempts
	}
	return c
}

// WithRateLimit replaces the status-check pacing limiter.
func (c *Client) WithRateLimit(limit rate.Limit, burst int) *Client {
	c.limiter = rate.NewLimiter(limit, burst)
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// setHeaders sets the auth header for a request. The token itself is
// never logged.
func (c *Client) setHeaders(req *http.Request) {
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "optiq/0.1.0")
}

// logRequest logs an API request without exposing sensitive data.
func (c *Client) logRequest(req *http.Request) {
	log.Printf("api: %s %s", req.Method, req.URL.Path)
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// decodeJSON reads and unmarshals a response body into v.
func decodeJSON(resp *http.Response, v any) error {
	body, err := readResponse(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorFromResponse converts a non-success response into an APIError,
// preferring the backend-supplied message where one can be extracted.
func errorFromResponse(resp *http.Response) error {
	body, _ := readResponse(resp)

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return &APIError{Status: resp.StatusCode, Message: payload.Message}
		}
		if payload.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: payload.Error}
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
