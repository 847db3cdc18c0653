package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/rampart/pkg/httputil"
	"github.com/platinummonkey/rampart/pkg/middleware"
)

// DefaultServer is the API base URL used when neither --server nor
// RAMPART_SERVER is set
const DefaultServer = "http://localhost:8080/v1"

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client calls the rampart HTTP API on behalf of one principal
type Client struct {
	baseURL   string
	principal string
	secret    string
	http      *http.Client
}

// NewClient creates a client. principal is sent in the principal header
// and secret, if set, as a bearer token.
func NewClient(baseURL, principal, secret string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		principal: principal,
		secret:    secret,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Do sends body as JSON and decodes the response into out, either of
// which may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.principal != "" {
		req.Header.Set(middleware.DefaultPrincipalHeader, c.principal)
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr httputil.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
