// Package client talks to the todo API. A Client is both the identity
// provider and the remote row store of a terminal session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"todostarter/internal/todo"
)

// APIError is an error response the taxonomy has no sentinel for.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return e.Message
}

type Client struct {
	baseURL string
	http    *http.Client
	log     log.FieldLogger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithLogger(l log.FieldLogger) Option { return func(c *Client) { c.log = l } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "client")
	return c
}

type errorBody struct {
	Code    string            `json:"code"`
	Error   string            `json:"error"`
	Details []todo.FieldError `json:"details"`
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.WithFields(log.Fields{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("api call")

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError maps an error response back onto the todo taxonomy.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	switch {
	case body.Code == "VALIDATION_ERROR":
		fields := body.Details
		if len(fields) == 0 {
			fields = []todo.FieldError{{Field: "", Message: body.Error}}
		}
		return &todo.ValidationError{Fields: fields}
	case resp.StatusCode == http.StatusUnauthorized && (body.Code == "" || body.Code == "UNAUTHORIZED"):
		return todo.ErrUnauthenticated
	case resp.StatusCode == http.StatusNotFound && (body.Code == "" || body.Code == "NOT_FOUND"):
		return todo.ErrNotFound
	}
	message := body.Error
	if message == "" {
		message = string(bytes.TrimSpace(raw))
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: message}
}
