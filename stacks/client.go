// Package stacks is a ChainIndexer backed by the Hiro Stacks API.
package stacks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	x402 "github.com/Rampop01/streamit"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxRetries = 1
	defaultRetryDelay = 200 * time.Millisecond
)

// Client looks up transactions on a Hiro-compatible indexer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetry sets how many times a failed lookup is retried and the initial
// backoff between attempts.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(client *Client) {
		if maxRetries >= 0 {
			client.maxRetries = maxRetries
		}
		if delay > 0 {
			client.retryDelay = delay
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client for the indexer at baseURL. By default a lookup
// makes two attempts. The HTTP client has no timeout of its own; lookups are
// bounded by the caller's context.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTransaction fetches a transaction via GET /extended/v1/tx/{txId}.
//
// A 404 yields x402.ErrTransactionNotFound. Transport failures, 429 and 5xx
// responses are retried; once the budget is spent the error wraps
// x402.ErrIndexerUnavailable. Context cancellation, transport timeouts, other
// 4xx statuses and undecodable bodies are returned immediately, so the
// engine classifies them as pending.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*x402.Transaction, error) {
	var tx *x402.Transaction
	attempt := 0

	operation := func() error {
		attempt++
		result, err := c.fetch(ctx, txID)
		if err != nil {
			if errors.Is(err, x402.ErrIndexerUnavailable) {
				c.logger.Warn("indexer lookup failed", "tx_id", txID, "attempt", attempt, "error", err)
			}
			return err
		}
		tx = result
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Client) fetch(ctx context.Context, txID string) (*x402.Transaction, error) {
	endpoint := c.baseURL + "/extended/v1/tx/" + url.PathEscape(txID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create transaction request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, backoff.Permanent(fmt.Errorf("transaction lookup cancelled: %w", ctxErr))
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, backoff.Permanent(fmt.Errorf("transaction lookup timed out: %w", err))
		}
		return nil, fmt.Errorf("%w: %v", x402.ErrIndexerUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(x402.ErrTransactionNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", x402.ErrIndexerUnavailable, resp.StatusCode, string(bodyBytes))
	default:
		var errResp ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errResp); err != nil || errResp.Error == "" {
			errResp.Error = resp.Status
		}
		return nil, backoff.Permanent(fmt.Errorf("indexer returned status %d: %s", resp.StatusCode, errResp.Error))
	}

	var txResp TransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&txResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode transaction: %w", err))
	}

	return toTransaction(txID, &txResp), nil
}

func toTransaction(txID string, r *TransactionResponse) *x402.Transaction {
	tx := &x402.Transaction{
		TxID:          r.TxID,
		TxType:        r.TxType,
		TxStatus:      r.TxStatus,
		SenderAddress: r.SenderAddress,
	}
	if tx.TxID == "" {
		tx.TxID = txID
	}
	if r.TokenTransfer != nil {
		tx.RecipientAddress = r.TokenTransfer.RecipientAddress
		tx.Amount = r.TokenTransfer.Amount
		tx.Memo = r.TokenTransfer.Memo
	}
	return tx
}
