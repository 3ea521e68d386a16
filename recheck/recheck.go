// Package recheck settles pending payments once the indexer has caught up.
package recheck

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	x402 "github.com/Rampop01/streamit"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule  = "@every 1m"
	DefaultBatchSize = 100
	runTimeout       = 2 * time.Minute
)

// PendingStore lists and settles pending ledger rows.
type PendingStore interface {
	ListPending(ctx context.Context, limit int) ([]x402.PaymentRecord, error)
	UpdateStatus(ctx context.Context, contentID, txID string, status x402.VerificationStatus, reason string) error
}

// Reclassifier re-runs verification for a stored claim. *x402.Engine satisfies it.
type Reclassifier interface {
	Reclassify(ctx context.Context, contentID, txID string) (x402.Classification, error)
}

// Summary counts the outcomes of one run.
type Summary struct {
	Checked      int
	Verified     int
	Mismatched   int
	StillPending int
	Failed       int
}

// Job re-verifies a batch of pending payments.
type Job struct {
	store     PendingStore
	engine    Reclassifier
	events    x402.EventPublisher
	batchSize int
	logger    *slog.Logger
}

// NewJob creates a Job. events may be nil.
func NewJob(store PendingStore, engine Reclassifier, events x402.EventPublisher, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		store:     store,
		engine:    engine,
		events:    events,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
}

// Run processes one batch. Per-record failures are counted, not returned.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	records, err := j.store.ListPending(ctx, j.batchSize)
	if err != nil {
		return sum, fmt.Errorf("list pending payments: %w", err)
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Checked++

		cls, err := j.engine.Reclassify(ctx, rec.ContentID, rec.TxID)
		if err != nil {
			sum.Failed++
			j.logger.Warn("recheck failed", "content_id", rec.ContentID, "tx_id", rec.TxID, "error", err)
			continue
		}

		switch cls.Status {
		case x402.StatusPending:
			sum.StillPending++
			continue
		case x402.StatusVerified:
			sum.Verified++
		default:
			sum.Mismatched++
		}

		if err := j.store.UpdateStatus(ctx, rec.ContentID, rec.TxID, cls.Status, cls.Reason); err != nil {
			sum.Failed++
			j.logger.Error("settle payment failed", "content_id", rec.ContentID, "tx_id", rec.TxID, "error", err)
			continue
		}
		j.publish(ctx, rec, cls)
	}

	if sum.Checked > 0 {
		j.logger.Info("pending payments rechecked",
			"checked", sum.Checked,
			"verified", sum.Verified,
			"mismatched", sum.Mismatched,
			"pending", sum.StillPending,
			"failed", sum.Failed,
		)
	}
	return sum, nil
}

func (j *Job) publish(ctx context.Context, rec x402.PaymentRecord, cls x402.Classification) {
	if j.events == nil {
		return
	}
	payer := rec.BuyerAddress
	if cls.Sender != "" {
		payer = cls.Sender
	}
	event := x402.PaymentEvent{
		Type:      x402.EventTypeFor(cls.Status),
		ContentID: rec.ContentID,
		TxID:      rec.TxID,
		Payer:     payer,
		Recipient: rec.Recipient,
		Amount:    rec.Amount,
		Reason:    cls.Reason,
		Timestamp: time.Now().UTC(),
	}
	if err := j.events.Publish(ctx, event); err != nil {
		j.logger.Error("publish payment event failed", "content_id", rec.ContentID, "tx_id", rec.TxID, "error", err)
	}
}

// ValidateSchedule checks a standard cron expression or an @every descriptor.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid recheck schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler runs a Job on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler registers job under schedule. Call Start to begin.
func NewScheduler(job *Job, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := job.Run(ctx); err != nil {
			logger.Error("recheck run failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid recheck schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.logger.Info("recheck scheduled", "next", entry.Next)
	}
}

// Stop halts scheduling and returns a context that is done once a running
// job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
