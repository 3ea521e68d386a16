package store

import (
	"context"
	"sort"
	"sync"

	x402 "github.com/Rampop01/streamit"
)

// MemoryLedger is a process-local PaymentLedger.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]x402.PaymentRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]x402.PaymentRecord)}
}

// Record upserts by (ContentID, TxID). The first timestamp is kept.
func (l *MemoryLedger) Record(ctx context.Context, record *x402.PaymentRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := x402.CacheKey(record.ContentID, record.TxID)
	if prev, ok := l.records[key]; ok && !prev.Timestamp.IsZero() {
		updated := *record
		updated.Timestamp = prev.Timestamp
		l.records[key] = updated
		return nil
	}
	l.records[key] = *record
	return nil
}

// ListPending returns up to limit pending records, oldest first.
func (l *MemoryLedger) ListPending(ctx context.Context, limit int) ([]x402.PaymentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []x402.PaymentRecord
	for _, rec := range l.records {
		if rec.Status == x402.StatusPending {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) UpdateStatus(ctx context.Context, contentID, txID string, status x402.VerificationStatus, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := x402.CacheKey(contentID, txID)
	rec, ok := l.records[key]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.Reason = reason
	l.records[key] = rec
	return nil
}

// Records returns a snapshot of every record.
func (l *MemoryLedger) Records() []x402.PaymentRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]x402.PaymentRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
