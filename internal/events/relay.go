package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"look-marketplace/internal/models"
)

// OutboxSource hands pending outbox events to a publish callback and records
// the outcome
type OutboxSource interface {
	ProcessPending(ctx context.Context, limit int, publish func(models.OutboxEvent) error) (int, error)
}

// EventPublisher delivers one event to the broker
type EventPublisher interface {
	Publish(ctx context.Context, event models.OutboxEvent) error
}

// OutboxRelay periodically moves committed outbox events to NATS
type OutboxRelay struct {
	source    OutboxSource
	publisher EventPublisher
	interval  time.Duration
	batchSize int
	logger    *logrus.Entry
}

// NewOutboxRelay creates a relay
func NewOutboxRelay(source OutboxSource, publisher EventPublisher, interval time.Duration, batchSize int, logger *logrus.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxRelay{
		source:    source,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.WithField("component", "outbox_relay"),
	}
}

// RelayOnce publishes one batch and returns how many events went out
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	return r.source.ProcessPending(ctx, r.batchSize, func(event models.OutboxEvent) error {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"event_id": event.ID,
				"subject":  event.Subject,
				"attempts": event.Attempts + 1,
			}).Warn("outbox publish failed")
			return err
		}
		return nil
	})
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// another one.
func (r *OutboxRelay) Run(ctx context.Context) {
	r.logger.WithField("interval", r.interval.String()).Info("outbox relay started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Error("outbox relay batch failed")
		}
		if n >= r.batchSize && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}
