// Package events delivers payment lifecycle events to logs and message brokers.
package events

import (
	"context"
	"errors"
	"log/slog"

	x402 "github.com/Rampop01/streamit"
)

// LogPublisher writes every event to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event x402.PaymentEvent) error {
	level := slog.LevelInfo
	if event.Type == x402.EventPaymentRejected {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "payment event",
		"type", event.Type,
		"content_id", event.ContentID,
		"tx_id", event.TxID,
		"payer", event.Payer,
		"amount", event.Amount,
		"reason", event.Reason,
	)
	return nil
}

// MultiPublisher fans an event out to every publisher and joins their errors.
type MultiPublisher []x402.EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event x402.PaymentEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
