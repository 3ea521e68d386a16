package recheck

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	x402 "github.com/Rampop01/streamit"
	"github.com/Rampop01/streamit/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const creator = "SP2ZNGJ85ENDY6QTHQ1LVQCSLWZ5J6TXW67HQ5M3B"

type fakeIndexer map[string]*x402.Transaction

func (f fakeIndexer) GetTransaction(ctx context.Context, txID string) (*x402.Transaction, error) {
	tx, ok := f[txID]
	if !ok {
		return nil, x402.ErrTransactionNotFound
	}
	return tx, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []x402.PaymentEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, event x402.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, indexer x402.ChainIndexer) *x402.Engine {
	t.Helper()
	repo, err := store.NewFileRepository(filepath.Join(t.TempDir(), "content.json"))
	require.NoError(t, err)
	require.NoError(t, repo.Seed(context.Background(), store.SampleCatalog(time.Now())))

	engine, err := x402.NewEngine(x402.Config{Repository: repo, Indexer: indexer, Logger: quiet()})
	require.NoError(t, err)
	return engine
}

func pending(contentID, txID string, at time.Time) *x402.PaymentRecord {
	return &x402.PaymentRecord{
		ContentID: contentID,
		TxID:      txID,
		Amount:    "5000000",
		Recipient: creator,
		Status:    x402.StatusPending,
		Timestamp: at,
	}
}

func TestJobRun(t *testing.T) {
	indexer := fakeIndexer{
		"0xconfirmed": {
			TxType: x402.TxTypeTokenTransfer, TxStatus: x402.TxStatusSuccess,
			SenderAddress: "ST1SENDER", RecipientAddress: creator, Amount: "5000000",
		},
		"0xwrongpayee": {
			TxType: x402.TxTypeTokenTransfer, TxStatus: x402.TxStatusSuccess,
			SenderAddress: "ST1SENDER", RecipientAddress: "ST1OTHER", Amount: "5000000",
		},
	}
	engine := newEngine(t, indexer)

	ledger := store.NewMemoryLedger()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, ledger.Record(ctx, pending("sample-1", "0xconfirmed", base)))
	require.NoError(t, ledger.Record(ctx, pending("sample-1", "0xwrongpayee", base.Add(time.Second))))
	require.NoError(t, ledger.Record(ctx, pending("sample-1", "0xunknown", base.Add(2*time.Second))))
	require.NoError(t, ledger.Record(ctx, pending("deleted", "0xorphan", base.Add(3*time.Second))))

	events := &recordingPublisher{}
	job := NewJob(ledger, engine, events, quiet())

	sum, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 4, Verified: 1, Mismatched: 1, StillPending: 1, Failed: 1}, sum)

	left, err := ledger.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 2)

	require.Len(t, events.events, 2)
	assert.Equal(t, x402.EventPaymentVerified, events.events[0].Type)
	assert.Equal(t, "ST1SENDER", events.events[0].Payer)
	assert.Equal(t, x402.EventPaymentRejected, events.events[1].Type)
	assert.Equal(t, "recipient does not match creator address", events.events[1].Reason)
}

type failingStore struct{}

func (failingStore) ListPending(ctx context.Context, limit int) ([]x402.PaymentRecord, error) {
	return nil, errors.New("db down")
}

func (failingStore) UpdateStatus(ctx context.Context, contentID, txID string, status x402.VerificationStatus, reason string) error {
	return nil
}

func TestJobRunListError(t *testing.T) {
	job := NewJob(failingStore{}, newEngine(t, fakeIndexer{}), nil, quiet())
	_, err := job.Run(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule(DefaultSchedule))
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.Error(t, ValidateSchedule("every minute"))
}

func TestNewScheduler(t *testing.T) {
	job := NewJob(store.NewMemoryLedger(), newEngine(t, fakeIndexer{}), nil, quiet())

	_, err := NewScheduler(job, "not a schedule", quiet())
	assert.Error(t, err)

	s, err := NewScheduler(job, "", quiet())
	require.NoError(t, err)
	s.Start()
	<-s.Stop().Done()
}
