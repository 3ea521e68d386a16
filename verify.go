package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	msgTxIDRequired       = "txId is required"
	msgVerifyFailed       = "Verification failed"
	msgPendingConfirm     = "Transaction pending confirmation"
	msgMismatch           = "Payment does not match content requirements"
	msgSoftAcceptMismatch = "Payment received (pending full verification)"
)

// Classify matches an indexed transaction against a payment requirement.
// A nil transaction (not indexed yet) is pending.
func Classify(tx *Transaction, req PaymentRequirements, policy VerifyPolicy) Classification {
	if tx == nil {
		return Classification{Status: StatusPending, Reason: "transaction not indexed yet"}
	}

	c := Classification{Sender: tx.SenderAddress, Amount: tx.Amount}

	if tx.TxType != TxTypeTokenTransfer {
		c.Status = StatusMismatched
		c.Reason = fmt.Sprintf("transaction type %q is not a token transfer", tx.TxType)
		return c
	}

	if tx.RecipientAddress != req.PayTo {
		c.Status = StatusMismatched
		c.Reason = "recipient does not match creator address"
		return c
	}

	if tx.TxStatus != TxStatusSuccess && tx.TxStatus != TxStatusPending {
		c.Status = StatusMismatched
		c.Reason = fmt.Sprintf("transaction status %q", tx.TxStatus)
		return c
	}

	if !policy.SkipAmountCheck {
		required, err := ParseMicroSTX(req.Amount)
		if err != nil {
			c.Status = StatusMismatched
			c.Reason = err.Error()
			return c
		}
		paid, err := ParseMicroSTX(tx.Amount)
		if err != nil || paid.LessThan(required) {
			c.Status = StatusMismatched
			c.Reason = fmt.Sprintf("transferred amount %s is below required %s", tx.Amount, req.Amount)
			return c
		}
	}

	if tx.TxStatus == TxStatusPending {
		c.Status = StatusPending
		c.Reason = "transaction in mempool"
		return c
	}

	c.Status = StatusVerified
	return c
}

// Verify redeems a transaction id for access to a content item.
func (e *Engine) Verify(ctx context.Context, contentID string, claim PaymentClaim) *Decision {
	content, err := e.cfg.Repository.Get(ctx, contentID)
	if err != nil {
		e.log.Error("fetch content failed", "content_id", contentID, "error", err)
		return errorDecision(http.StatusInternalServerError, msgFetchFailed)
	}
	if content == nil {
		return errorDecision(http.StatusNotFound, msgNotFound)
	}

	txID := strings.TrimSpace(claim.TxID)
	if txID == "" {
		return errorDecision(http.StatusBadRequest, msgTxIDRequired)
	}

	requirements := e.Requirements(content, "")
	e.publish(ctx, PaymentEvent{
		Type:      EventPaymentAttempt,
		ContentID: content.ID,
		TxID:      txID,
		Payer:     claim.PayerAddress,
		Recipient: requirements.PayTo,
		Amount:    requirements.Amount,
		Timestamp: time.Now().UTC(),
	})

	result, err := e.classify(ctx, content, txID, requirements)
	if err != nil {
		e.log.Error("verification failed", "content_id", content.ID, "tx_id", txID, "error", err)
		return errorDecision(http.StatusInternalServerError, msgVerifyFailed)
	}

	e.log.Info("payment classified",
		"content_id", content.ID,
		"tx_id", txID,
		"status", result.Status,
		"reason", result.Reason,
	)
	e.record(ctx, content, txID, claim.PayerAddress, requirements, result)

	switch result.Status {
	case StatusVerified:
		e.countView(ctx, content.ID)
		return e.unlockVerified(content, txID, result)

	case StatusPending:
		if e.cfg.Policy.RejectPending {
			return errorDecision(http.StatusForbidden, msgPendingConfirm)
		}
		return &Decision{
			Status: http.StatusOK,
			Body: &UnlockedContent{
				Content:  *content,
				PaidBy:   claim.PayerAddress,
				TxID:     txID,
				Verified: false,
				Message:  msgPendingConfirm,
			},
		}

	default:
		if !e.cfg.Policy.AllowMismatch {
			return &Decision{
				Status: http.StatusForbidden,
				Body:   map[string]string{"error": msgMismatch, "reason": result.Reason},
			}
		}
		paidBy := claim.PayerAddress
		if paidBy == "" {
			paidBy = result.Sender
		}
		return &Decision{
			Status: http.StatusOK,
			Body: &UnlockedContent{
				Content:  *content,
				PaidBy:   paidBy,
				TxID:     txID,
				Verified: false,
				Message:  msgSoftAcceptMismatch,
			},
		}
	}
}

// Reclassify re-runs classification for an earlier claim without producing a
// response. Used to settle pending ledger rows once the indexer catches up.
func (e *Engine) Reclassify(ctx context.Context, contentID, txID string) (Classification, error) {
	content, err := e.cfg.Repository.Get(ctx, contentID)
	if err != nil {
		return Classification{}, NewPaymentError(ErrCodeUpstreamUnavailable, msgFetchFailed, err)
	}
	if content == nil {
		return Classification{}, NewPaymentError(ErrCodeNotFound, msgNotFound, nil)
	}
	return e.classify(ctx, content, txID, e.Requirements(content, ""))
}

// classify consults the cache, then the indexer. Only ErrIndexerUnavailable
// is returned; every other lookup failure counts as pending.
func (e *Engine) classify(ctx context.Context, content *Content, txID string, req PaymentRequirements) (Classification, error) {
	key := CacheKey(content.ID, txID)
	if cached, ok := e.cfg.Cache.Get(ctx, key); ok {
		return *cached, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.IndexerTimeout)
	defer cancel()

	tx, err := e.cfg.Indexer.GetTransaction(lookupCtx, txID)
	switch {
	case err == nil:
	case errors.Is(err, ErrTransactionNotFound):
		tx = nil
	case errors.Is(err, ErrIndexerUnavailable):
		return Classification{}, err
	default:
		e.log.Warn("indexer lookup failed, treating as pending", "tx_id", txID, "error", err)
		tx = nil
	}

	result := Classify(tx, req, e.cfg.Policy)
	if result.Status == StatusVerified {
		e.cfg.Cache.Set(ctx, key, result)
	}
	return result, nil
}

func (e *Engine) unlockVerified(content *Content, txID string, result Classification) *Decision {
	unlocked := &UnlockedContent{
		Content:  *content,
		PaidBy:   result.Sender,
		TxID:     txID,
		Verified: true,
	}

	receipt, err := e.cfg.Receipts.Issue(content.ID, txID, result.Sender)
	if err != nil {
		e.log.Error("issue receipt failed", "content_id", content.ID, "tx_id", txID, "error", err)
	} else {
		unlocked.Receipt = receipt
	}

	header := http.Header{}
	paymentResponse := PaymentResponse{
		Success:     true,
		Transaction: txID,
		Network:     string(e.cfg.Network),
		Payer:       result.Sender,
	}
	if responseJSON, err := json.Marshal(paymentResponse); err == nil {
		header.Set(HeaderPaymentResponse, base64.StdEncoding.EncodeToString(responseJSON))
	}

	return &Decision{
		Status:  http.StatusOK,
		Body:    unlocked,
		Header:  header,
		Payment: e.paymentContext(content, txID, result.Sender),
	}
}

// record writes the outcome to the ledger and event stream. Failures are
// logged and never change the response.
func (e *Engine) record(ctx context.Context, content *Content, txID, payer string, req PaymentRequirements, result Classification) {
	buyer := payer
	if result.Sender != "" {
		buyer = result.Sender
	}
	now := time.Now().UTC()

	rec := &PaymentRecord{
		ContentID:    content.ID,
		BuyerAddress: buyer,
		TxID:         txID,
		Amount:       req.Amount,
		Recipient:    req.PayTo,
		Status:       result.Status,
		Reason:       result.Reason,
		Timestamp:    now,
	}
	if err := e.cfg.Ledger.Record(ctx, rec); err != nil {
		e.log.Error("record payment failed", "content_id", content.ID, "tx_id", txID, "error", err)
	}

	e.publish(ctx, PaymentEvent{
		Type:      EventTypeFor(result.Status),
		ContentID: content.ID,
		TxID:      txID,
		Payer:     buyer,
		Recipient: req.PayTo,
		Amount:    req.Amount,
		Reason:    result.Reason,
		Timestamp: now,
	})
}

func (e *Engine) publish(ctx context.Context, event PaymentEvent) {
	if e.cfg.Events == nil {
		return
	}
	if err := e.cfg.Events.Publish(ctx, event); err != nil {
		e.log.Error("publish payment event failed", "content_id", event.ContentID, "tx_id", event.TxID, "type", event.Type, "error", err)
	}
}
