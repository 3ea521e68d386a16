package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	x402 "github.com/Rampop01/streamit"
)

// State is a step of an unlock attempt.
type State string

const (
	StateIdle          State = "idle"
	StateFetching402   State = "fetching402"
	StateWaitingWallet State = "waitingWallet"
	StateBroadcasting  State = "broadcasting"
	StateVerifying     State = "verifying"
	StateComplete      State = "complete"
	StateError         State = "error"
)

// ErrAttemptStarted is returned when Unlock is called twice on one Orchestrator.
var ErrAttemptStarted = errors.New("unlock attempt already started")

const msgDegraded = "Payment sent. Verification is unavailable, refresh to see your content."

// Session identifies the buyer's wallet.
type Session struct {
	Address string
	Network string
}

// ContentRef is what the caller already knows about the item from the catalog.
type ContentRef struct {
	ID             string
	PriceInSTX     float64
	CreatorAddress string

	// Receipt from an earlier verified unlock. When the server accepts it
	// the attempt completes without asking the wallet.
	Receipt string
}

// TransferRequest is the STX transfer the wallet is asked to sign and broadcast.
type TransferRequest struct {
	Recipient string
	Amount    string // micro-STX
	Memo      string
	Network   string
}

// WalletSigner presents a transfer to the user and returns the broadcast
// transaction id. A declined transfer returns x402.ErrSignerCancelled.
type WalletSigner interface {
	SignTransfer(ctx context.Context, req TransferRequest) (string, error)
}

// Result is the outcome of a completed attempt.
type Result struct {
	Content  *x402.UnlockedContent
	TxID     string
	Verified bool

	// Degraded is set when the verify call could not be made and Content
	// holds only the preview.
	Degraded bool
	Message  string
}

// Orchestrator runs one unlock attempt:
// idle, fetching402, waitingWallet, broadcasting, verifying, then complete or error.
type Orchestrator struct {
	client  *Client
	signer  WalletSigner
	session Session
	logger  *slog.Logger

	// OnTransition, when set, is called after every state change.
	OnTransition func(from, to State)

	mu      sync.Mutex
	state   State
	started bool
	err     error
}

// NewOrchestrator creates an orchestrator for a single attempt.
func NewOrchestrator(client *Client, signer WalletSigner, session Session) *Orchestrator {
	return &Orchestrator{
		client:  client,
		signer:  signer,
		session: session,
		logger:  slog.Default(),
		state:   StateIdle,
	}
}

// WithLogger sets the logger and returns o.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the error that ended the attempt, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Unlock runs the attempt to completion. It never retries and calls the
// signer at most once.
func (o *Orchestrator) Unlock(ctx context.Context, ref ContentRef) (*Result, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil, ErrAttemptStarted
	}
	o.started = true
	o.mu.Unlock()

	o.transition(StateFetching402)
	req, unlocked, err := o.fetch(ctx, ref)
	if err != nil {
		return nil, o.fail(err)
	}
	if unlocked != nil {
		o.transition(StateComplete)
		return &Result{Content: unlocked, TxID: unlocked.TxID, Verified: unlocked.Verified}, nil
	}

	o.transition(StateWaitingWallet)
	txID, err := o.signer.SignTransfer(ctx, req)
	if err != nil {
		if errors.Is(err, x402.ErrSignerCancelled) {
			return nil, o.fail(x402.ErrSignerCancelled)
		}
		return nil, o.fail(fmt.Errorf("wallet error: %w", err))
	}
	if txID == "" {
		return nil, o.fail(errors.New("wallet returned no transaction id"))
	}

	o.transition(StateBroadcasting)
	o.logger.Info("payment broadcast", "content_id", ref.ID, "tx_id", txID, "amount", req.Amount, "pay_to", req.Recipient)

	o.transition(StateVerifying)
	verified, err := o.client.Verify(ctx, ref.ID, x402.PaymentClaim{TxID: txID, PayerAddress: o.session.Address})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, o.fail(errors.New(statusErr.Message))
		}
		o.logger.Warn("verify unreachable, falling back to preview", "content_id", ref.ID, "tx_id", txID, "error", err)
		return o.degraded(ctx, ref, txID), nil
	}

	o.transition(StateComplete)
	return &Result{
		Content:  verified,
		TxID:     txID,
		Verified: verified.Verified,
		Message:  verified.Message,
	}, nil
}

// fetch issues the plain content request. It returns the unlocked content on
// 200 or the transfer to sign on 402.
func (o *Orchestrator) fetch(ctx context.Context, ref ContentRef) (TransferRequest, *x402.UnlockedContent, error) {
	resp, err := o.client.Fetch(ctx, ref.ID, ref.Receipt)
	if err != nil {
		return TransferRequest{}, nil, fmt.Errorf("failed to fetch content: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var unlocked x402.UnlockedContent
		if err := json.NewDecoder(resp.Body).Decode(&unlocked); err != nil {
			return TransferRequest{}, nil, fmt.Errorf("failed to decode content: %w", err)
		}
		return TransferRequest{}, &unlocked, nil

	case http.StatusPaymentRequired:
		return o.transferFor(ref, resp), nil, nil

	default:
		return TransferRequest{}, nil, errors.New(statusError(resp).Message)
	}
}

// transferFor builds the transfer from the challenge, falling back to the
// catalog price and creator when the challenge cannot be decoded.
func (o *Orchestrator) transferFor(ref ContentRef, resp *http.Response) TransferRequest {
	req := TransferRequest{
		Recipient: ref.CreatorAddress,
		Amount:    x402.MicroSTXString(ref.PriceInSTX),
		Memo:      x402.Memo(ref.ID),
		Network:   o.session.Network,
	}

	challenge, err := x402.ReadPaymentRequirements(resp)
	if err != nil {
		io.Copy(io.Discard, resp.Body)
		o.logger.Warn("undecodable payment challenge, using catalog price", "content_id", ref.ID, "error", err)
		return req
	}

	accept := pickRequirement(challenge.Accepts)
	if accept.PayTo != "" {
		req.Recipient = accept.PayTo
	}
	if _, err := x402.ParseMicroSTX(accept.Amount); err == nil {
		req.Amount = accept.Amount
	}
	if accept.Network != "" {
		req.Network = accept.Network
	}
	if memo, ok := accept.Extra["memo"].(string); ok && memo != "" {
		req.Memo = memo
	}
	return req
}

// pickRequirement prefers an STX requirement over any other asset.
func pickRequirement(accepts []x402.PaymentRequirements) x402.PaymentRequirements {
	for _, a := range accepts {
		if a.Asset == "STX" {
			return a
		}
	}
	return accepts[0]
}

func (o *Orchestrator) degraded(ctx context.Context, ref ContentRef, txID string) *Result {
	result := &Result{TxID: txID, Degraded: true, Message: msgDegraded}

	preview, err := o.client.Preview(ctx, ref.ID)
	if err != nil {
		o.logger.Warn("preview unavailable", "content_id", ref.ID, "error", err)
	} else {
		result.Content = &x402.UnlockedContent{
			Content: *preview,
			PaidBy:  o.session.Address,
			TxID:    txID,
			Message: msgDegraded,
		}
	}

	o.transition(StateComplete)
	return result
}

func (o *Orchestrator) fail(err error) error {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
	o.transition(StateError)
	return err
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	cb := o.OnTransition
	o.mu.Unlock()

	if cb != nil {
		cb(from, to)
	}
}
