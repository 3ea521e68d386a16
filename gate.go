package x402

import (
	"context"
	"log/slog"
	"net/http"
)

const (
	msgNotFound    = "Content not found"
	msgFetchFailed = "Failed to fetch content"
	msgPaymentReq  = "Payment required"
	defaultScheme  = "exact"
	defaultAsset   = "STX"
	memoPrefix     = "PayStream: "
)

// Decision is a framework-agnostic response: each HTTP or gRPC layer renders
// it onto its own response type.
type Decision struct {
	Status int
	Body   interface{}
	Header http.Header

	// Payment is set when the decision unlocks content.
	Payment *PaymentContext
}

func errorDecision(status int, message string) *Decision {
	return &Decision{Status: status, Body: map[string]string{"error": message}}
}

// ErrorMessage returns the "error" field of an error decision body.
func (d *Decision) ErrorMessage() string {
	switch body := d.Body.(type) {
	case map[string]string:
		return body["error"]
	case *PaymentRequiredResponse:
		return body.Error
	}
	return ""
}

// Engine answers content fetches and payment redemptions. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, log: cfg.Logger}, nil
}

// Config returns the validated configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// GateRequest carries what the gate needs from an incoming fetch.
type GateRequest struct {
	// Preview asks for the metadata view without locked fields.
	Preview bool

	// Receipt is a payment receipt from an earlier verified redemption.
	Receipt string

	// Resource is the requested URL or method, echoed in the challenge.
	Resource string
}

// Gate decides whether a fetch gets the unlocked content or a 402 challenge.
func (e *Engine) Gate(ctx context.Context, contentID string, req GateRequest) *Decision {
	content, err := e.cfg.Repository.Get(ctx, contentID)
	if err != nil {
		e.log.Error("fetch content failed", "content_id", contentID, "error", err)
		return errorDecision(http.StatusInternalServerError, msgFetchFailed)
	}
	if content == nil {
		return errorDecision(http.StatusNotFound, msgNotFound)
	}

	if req.Preview {
		return &Decision{Status: http.StatusOK, Body: content.Preview()}
	}

	if req.Receipt != "" {
		claims, err := e.cfg.Receipts.ParseFor(req.Receipt, content.ID)
		if err == nil {
			e.countView(ctx, content.ID)
			return &Decision{
				Status: http.StatusOK,
				Body: &UnlockedContent{
					Content:  *content,
					PaidBy:   claims.Subject,
					TxID:     claims.TxID,
					Verified: true,
				},
				Payment: e.paymentContext(content, claims.TxID, claims.Subject),
			}
		}
		e.log.Warn("rejected payment receipt", "content_id", content.ID, "error", err)
	}

	return e.challenge(content, req.Resource)
}

// Requirements derives the payment requirement for a content item.
func (e *Engine) Requirements(content *Content, resource string) PaymentRequirements {
	req := PaymentRequirements{
		Scheme:            defaultScheme,
		Network:           string(e.cfg.Network),
		Amount:            MicroSTXString(content.PriceInSTX),
		Asset:             defaultAsset,
		PayTo:             content.CreatorAddress,
		MaxTimeoutSeconds: int(e.cfg.ValidityDuration.Seconds()),
		Description:       describe(content),
		Resource:          resource,
		Extra: map[string]interface{}{
			"contentId": content.ID,
			"memo":      Memo(content.ID),
		},
	}
	if e.cfg.FacilitatorURL != "" {
		req.Extra["facilitator"] = e.cfg.FacilitatorURL
	}
	return req
}

// Memo is the transfer memo a client attaches to a payment for contentID.
func Memo(contentID string) string {
	return memoPrefix + contentID
}

func describe(content *Content) string {
	return `Access to "` + content.Title + `"`
}

func (e *Engine) challenge(content *Content, resource string) *Decision {
	response := &PaymentRequiredResponse{
		X402Version: X402Version,
		Error:       msgPaymentReq,
		Accepts:     []PaymentRequirements{e.Requirements(content, resource)},
	}

	header := http.Header{}
	if encoded, err := EncodePaymentRequired(response); err == nil {
		header.Set(HeaderPaymentRequired, encoded)
	} else {
		e.log.Error("encode payment requirements failed", "content_id", content.ID, "error", err)
	}

	return &Decision{Status: http.StatusPaymentRequired, Body: response, Header: header}
}

func (e *Engine) countView(ctx context.Context, id string) {
	counter, ok := e.cfg.Repository.(ViewCounter)
	if !ok {
		return
	}
	if err := counter.IncrementViews(ctx, id); err != nil {
		e.log.Warn("increment views failed", "content_id", id, "error", err)
	}
}

func (e *Engine) paymentContext(content *Content, txID, payer string) *PaymentContext {
	return &PaymentContext{
		Verified:      true,
		ContentID:     content.ID,
		PayerAddress:  payer,
		Amount:        MicroSTXString(content.PriceInSTX),
		Network:       string(e.cfg.Network),
		TransactionID: txID,
	}
}
