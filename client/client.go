// Package client drives the content API from the buyer's side: catalog calls
// and the pay-to-unlock orchestrator.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	x402 "github.com/Rampop01/streamit"
)

const defaultTimeout = 30 * time.Second

// StatusError is a non-2xx answer from the content API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the content API at a base URL such as http://localhost:3000/api.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns the catalog with locked fields stripped.
func (c *Client) List(ctx context.Context) ([]x402.Content, error) {
	var items []x402.Content
	if err := c.doJSON(ctx, http.MethodGet, "/content", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Preview returns the metadata view of a content item.
func (c *Client) Preview(ctx context.Context, id string) (*x402.Content, error) {
	var content x402.Content
	if err := c.doJSON(ctx, http.MethodGet, contentPath(id)+"?preview=true", nil, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// Create publishes a new content item.
func (c *Client) Create(ctx context.Context, input x402.ContentInput) (*x402.Content, error) {
	var created x402.Content
	if err := c.doJSON(ctx, http.MethodPost, "/content", input, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Verify redeems a transaction id. Non-2xx answers come back as *StatusError;
// any other error is a transport failure.
func (c *Client) Verify(ctx context.Context, id string, claim x402.PaymentClaim) (*x402.UnlockedContent, error) {
	var unlocked x402.UnlockedContent
	if err := c.doJSON(ctx, http.MethodPost, contentPath(id)+"/verify", claim, &unlocked); err != nil {
		return nil, err
	}
	return &unlocked, nil
}

// Fetch issues the gated GET for a content item and returns the raw response.
// The caller closes the body.
func (c *Client) Fetch(ctx context.Context, id, receipt string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+contentPath(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if receipt != "" {
		req.Header.Set(x402.HeaderPaymentReceipt, receipt)
	}
	return c.httpClient.Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) *StatusError {
	var errBody struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &errBody) != nil || errBody.Error == "" {
		errBody.Error = http.StatusText(resp.StatusCode)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: errBody.Error}
}

func contentPath(id string) string {
	return "/content/" + url.PathEscape(id)
}
