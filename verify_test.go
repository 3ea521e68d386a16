package x402

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	req := PaymentRequirements{PayTo: testCreator, Amount: "5000000"}

	tests := []struct {
		name       string
		tx         *Transaction
		policy     VerifyPolicy
		wantStatus VerificationStatus
	}{
		{
			name:       "not indexed",
			tx:         nil,
			wantStatus: StatusPending,
		},
		{
			name:       "matching transfer",
			tx:         &Transaction{TxType: TxTypeTokenTransfer, TxStatus: TxStatusSuccess, RecipientAddress: testCreator, Amount: "5000000"},
			wantStatus: StatusVerified,
		},
		{
			name:       "overpayment",
			tx:         &Transaction{TxType: TxTypeTokenTransfer, TxStatus: TxStatusSuccess, RecipientAddress: testCreator, Amount: "6000000"},
			wantStatus: StatusVerified,
		},
		{
			name:       "underpayment",
			tx:         &Transaction{TxType: TxTypeTokenTransfer, TxStatus: TxStatusSuccess, RecipientAddress: testCreator, Amount: "4999999"},
			wantStatus: StatusMismatched,
		},
		{
			name:       "underpayment with amount check skipped",
			tx:         &Transaction{TxType: TxTypeTokenTransfer, TxStatus: TxStatusSuccess, RecipientAddress: testCreator, Amount: "1"},
			policy:     VerifyPolicy{SkipAmountCheck: true},
			wantStatus: StatusVerified,
		},
		{
			name:       "wrong recipient",
			tx:         &Transaction{TxType: TxTypeTokenTransfer, TxStatus: TxStatusSuccess, RecipientAddress: testSender, Amount: "5000000"},
			wantStatus: StatusMismatched,
		},
		{
			name:       "contract call",
			tx:         &Transaction{TxType: "contract_call", TxStatus: TxStatusSuccess},
			wantStatus: StatusMismatched,
		},
		{
			name:       "aborted",
			tx:         &Transaction{TxType: TxTypeTokenTransfer, TxStatus: "abort_by_post_condition", RecipientAddress: testCreator, Amount: "5000000"},
			wantStatus: StatusMismatched,
		},
		{
			name:       "in mempool",
			tx:         &Transaction{TxType: TxTypeTokenTransfer, TxStatus: TxStatusPending, RecipientAddress: testCreator, Amount: "5000000"},
			wantStatus: StatusPending,
		},
		{
			name:       "unparseable amount",
			tx:         &Transaction{TxType: TxTypeTokenTransfer, TxStatus: TxStatusSuccess, RecipientAddress: testCreator, Amount: "lots"},
			wantStatus: StatusMismatched,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.tx, req, tt.policy)
			if got.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s (%s)", tt.wantStatus, got.Status, got.Reason)
			}
		})
	}
}

func TestVerifyMissingTxID(t *testing.T) {
	indexer := &MockIndexer{}
	events := &MockPublisher{}
	engine := testEngine(t, indexer, func(c *Config) { c.Events = events })

	for _, txID := range []string{"", "   "} {
		d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: txID})
		if d.Status != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", d.Status)
		}
		if d.ErrorMessage() != "txId is required" {
			t.Errorf("unexpected error message %q", d.ErrorMessage())
		}
	}
	if indexer.Calls() != 0 {
		t.Errorf("expected no indexer calls, got %d", indexer.Calls())
	}
	if len(events.events) != 0 {
		t.Errorf("expected no events for a blank txId, got %+v", events.events)
	}
}

func TestVerifyUnknownContent(t *testing.T) {
	indexer := &MockIndexer{}
	engine := testEngine(t, indexer)

	d := engine.Verify(context.Background(), "missing", PaymentClaim{TxID: "0xabc"})
	if d.Status != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", d.Status)
	}
	if indexer.Calls() != 0 {
		t.Errorf("expected no indexer calls, got %d", indexer.Calls())
	}
}

func TestVerifyVerified(t *testing.T) {
	ledger := &MockLedger{}
	events := &MockPublisher{}
	indexer := &MockIndexer{GetTransactionFunc: transferTo(testCreator, "5000000")}
	engine := testEngine(t, indexer, func(c *Config) {
		c.Ledger = ledger
		c.Events = events
	})

	d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xdeadbeef", PayerAddress: "SPSOMEONEELSE"})
	if d.Status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", d.Status)
	}

	unlocked := d.Body.(*UnlockedContent)
	if !unlocked.Verified {
		t.Error("expected verified true")
	}
	if unlocked.PaidBy != testSender {
		t.Errorf("expected paidBy to be the transaction sender, got %s", unlocked.PaidBy)
	}
	if unlocked.TxID != "0xdeadbeef" {
		t.Errorf("expected txId 0xdeadbeef, got %s", unlocked.TxID)
	}
	if unlocked.EmbedURL == "" {
		t.Error("expected embedUrl in unlocked content")
	}
	if unlocked.Receipt == "" {
		t.Error("expected a payment receipt")
	}

	if _, err := engine.Config().Receipts.ParseFor(unlocked.Receipt, "vid-1"); err != nil {
		t.Errorf("issued receipt does not validate: %v", err)
	}

	resp, err := DecodePaymentResponse(d.Header.Get(HeaderPaymentResponse))
	if err != nil {
		t.Fatalf("failed to decode PAYMENT-RESPONSE: %v", err)
	}
	if !resp.Success || resp.Payer != testSender {
		t.Errorf("unexpected payment response %+v", resp)
	}

	if len(ledger.records) != 1 || ledger.records[0].Status != StatusVerified {
		t.Fatalf("expected one verified ledger record, got %+v", ledger.records)
	}
	if ledger.records[0].BuyerAddress != testSender {
		t.Errorf("expected buyer %s, got %s", testSender, ledger.records[0].BuyerAddress)
	}
	if len(events.events) != 2 || events.events[0].Type != EventPaymentAttempt || events.events[1].Type != EventPaymentVerified {
		t.Fatalf("expected attempt then verified events, got %+v", events.events)
	}
	if attempt := events.events[0]; attempt.Payer != "SPSOMEONEELSE" || attempt.Amount != "5000000" || attempt.Recipient != testCreator {
		t.Errorf("unexpected attempt event %+v", attempt)
	}
}

func TestVerifyPending(t *testing.T) {
	t.Run("soft accept by default", func(t *testing.T) {
		engine := testEngine(t, &MockIndexer{})

		d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xpending", PayerAddress: "SPBUYER"})
		if d.Status != http.StatusOK {
			t.Fatalf("expected status 200, got %d", d.Status)
		}
		unlocked := d.Body.(*UnlockedContent)
		if unlocked.Verified {
			t.Error("expected verified false")
		}
		if unlocked.Message != "Transaction pending confirmation" {
			t.Errorf("unexpected message %q", unlocked.Message)
		}
		if unlocked.PaidBy != "SPBUYER" {
			t.Errorf("expected paidBy SPBUYER, got %s", unlocked.PaidBy)
		}
		if unlocked.EmbedURL == "" {
			t.Error("expected embedUrl in soft-accepted content")
		}
		if unlocked.Receipt != "" {
			t.Error("pending payments must not receive a receipt")
		}
	})

	t.Run("strict policy rejects", func(t *testing.T) {
		engine := testEngine(t, &MockIndexer{}, func(c *Config) { c.Policy.RejectPending = true })

		d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xpending"})
		if d.Status != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", d.Status)
		}
	})

	t.Run("timeout counts as pending", func(t *testing.T) {
		indexer := &MockIndexer{GetTransactionFunc: func(ctx context.Context, txID string) (*Transaction, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		engine := testEngine(t, indexer, func(c *Config) { c.IndexerTimeout = 20 * time.Millisecond })

		d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xslow"})
		if d.Status != http.StatusOK {
			t.Fatalf("expected status 200, got %d", d.Status)
		}
		if d.Body.(*UnlockedContent).Verified {
			t.Error("expected verified false")
		}
	})

	t.Run("malformed indexer response counts as pending", func(t *testing.T) {
		indexer := &MockIndexer{GetTransactionFunc: func(ctx context.Context, txID string) (*Transaction, error) {
			return nil, errors.New("failed to decode transaction")
		}}
		engine := testEngine(t, indexer)

		d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xodd"})
		if d.Status != http.StatusOK {
			t.Fatalf("expected status 200, got %d", d.Status)
		}
	})
}

func TestVerifyIndexerUnavailable(t *testing.T) {
	indexer := &MockIndexer{GetTransactionFunc: func(ctx context.Context, txID string) (*Transaction, error) {
		return nil, fmt.Errorf("%w: status 503", ErrIndexerUnavailable)
	}}
	engine := testEngine(t, indexer)

	d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xabc"})
	if d.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", d.Status)
	}
	if d.ErrorMessage() != "Verification failed" {
		t.Errorf("unexpected error message %q", d.ErrorMessage())
	}
}

func TestVerifyMismatch(t *testing.T) {
	wrongRecipient := &MockIndexer{GetTransactionFunc: transferTo(testSender, "5000000")}

	t.Run("strict by default", func(t *testing.T) {
		events := &MockPublisher{}
		engine := testEngine(t, wrongRecipient, func(c *Config) { c.Events = events })

		d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xwrong"})
		if d.Status != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", d.Status)
		}
		body := d.Body.(map[string]string)
		if body["reason"] == "" {
			t.Error("expected a mismatch reason")
		}
		if len(events.events) != 2 || events.events[1].Type != EventPaymentRejected {
			t.Errorf("expected attempt then rejected events, got %+v", events.events)
		}
	})

	t.Run("demo mode soft accepts", func(t *testing.T) {
		engine := testEngine(t, wrongRecipient, func(c *Config) { c.Policy.AllowMismatch = true })

		d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xwrong"})
		if d.Status != http.StatusOK {
			t.Fatalf("expected status 200, got %d", d.Status)
		}
		unlocked := d.Body.(*UnlockedContent)
		if unlocked.Verified {
			t.Error("expected verified false")
		}
		if unlocked.PaidBy != testSender {
			t.Errorf("expected paidBy to fall back to sender, got %s", unlocked.PaidBy)
		}
		if unlocked.Message != "Payment received (pending full verification)" {
			t.Errorf("unexpected message %q", unlocked.Message)
		}
	})

	t.Run("short amount rejected", func(t *testing.T) {
		engine := testEngine(t, &MockIndexer{GetTransactionFunc: transferTo(testCreator, "100")})

		d := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xcheap"})
		if d.Status != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", d.Status)
		}
	})
}

func TestVerifyIdempotent(t *testing.T) {
	tests := []struct {
		name    string
		indexer *MockIndexer
	}{
		{"verified", &MockIndexer{GetTransactionFunc: transferTo(testCreator, "5000000")}},
		{"pending", &MockIndexer{}},
		{"mismatched", &MockIndexer{GetTransactionFunc: transferTo(testSender, "5000000")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := testEngine(t, tt.indexer)
			firstCall := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xsame"})
			secondCall := engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xsame"})
			if firstCall.Status != secondCall.Status {
				t.Fatalf("status changed between calls: %d then %d", firstCall.Status, secondCall.Status)
			}
			a, aok := firstCall.Body.(*UnlockedContent)
			b, bok := secondCall.Body.(*UnlockedContent)
			if aok != bok || (aok && a.Verified != b.Verified) {
				t.Errorf("classification changed between calls")
			}
		})
	}
}

func TestVerifyCachesVerified(t *testing.T) {
	indexer := &MockIndexer{GetTransactionFunc: transferTo(testCreator, "5000000")}
	engine := testEngine(t, indexer)

	for i := 0; i < 3; i++ {
		engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xdeadbeef"})
	}
	if indexer.Calls() != 1 {
		t.Errorf("expected 1 indexer call, got %d", indexer.Calls())
	}

	pending := &MockIndexer{}
	engine = testEngine(t, pending)
	engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xpending"})
	engine.Verify(context.Background(), "vid-1", PaymentClaim{TxID: "0xpending"})
	if pending.Calls() != 2 {
		t.Errorf("pending results must not be cached, got %d indexer calls", pending.Calls())
	}
}

func TestReclassify(t *testing.T) {
	indexer := &MockIndexer{GetTransactionFunc: transferTo(testCreator, "5000000")}
	engine := testEngine(t, indexer)

	result, err := engine.Reclassify(context.Background(), "vid-1", "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusVerified {
		t.Errorf("expected verified, got %s", result.Status)
	}

	_, err = engine.Reclassify(context.Background(), "missing", "0xabc")
	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}

	unavailable := testEngine(t, &MockIndexer{GetTransactionFunc: func(context.Context, string) (*Transaction, error) {
		return nil, ErrIndexerUnavailable
	}})
	if _, err := unavailable.Reclassify(context.Background(), "vid-1", "0xabc"); !errors.Is(err, ErrIndexerUnavailable) {
		t.Errorf("expected ErrIndexerUnavailable, got %v", err)
	}
}
