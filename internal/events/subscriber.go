package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/models"
)

// BrandInvalidator drops cached catalog pages of a brand
type BrandInvalidator interface {
	InvalidateBrand(ctx context.Context, brandID int64) error
}

// CatalogInvalidationSubscriber drops this instance's cached catalog pages when
// any instance commits staging rows
type CatalogInvalidationSubscriber struct {
	js           jetstream.JetStream
	invalidator  BrandInvalidator
	consumerName string
	logger       *logrus.Entry
}

// NewCatalogInvalidationSubscriber creates a subscriber with a per-host durable
// consumer, so every instance sees every commit
func NewCatalogInvalidationSubscriber(js jetstream.JetStream, invalidator BrandInvalidator, logger *logrus.Logger) *CatalogInvalidationSubscriber {
	hostname, _ := os.Hostname()
	return &CatalogInvalidationSubscriber{
		js:           js,
		invalidator:  invalidator,
		consumerName: fmt.Sprintf("catalog-cache-%s", hostname),
		logger:       logger.WithField("component", "catalog_invalidation_subscriber"),
	}
}

// Start consumes commit events in the background until ctx ends
func (s *CatalogInvalidationSubscriber) Start(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:           s.consumerName,
		FilterSubject:     models.SubjectStagingCommitted,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           30 * time.Second,
		MaxDeliver:        3,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create catalog invalidation consumer: %w", err)
	}

	msgs, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("failed to open message iterator: %w", err)
	}

	go func() {
		<-ctx.Done()
		msgs.Stop()
	}()

	go func() {
		for {
			msg, err := msgs.Next()
			if err != nil {
				if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
					return
				}
				s.logger.WithError(err).Warn("failed to read next message")
				time.Sleep(time.Second)
				continue
			}

			if err := s.HandleStagingCommitted(ctx, msg.Data()); err != nil {
				s.logger.WithError(err).Warn("failed to handle staging commit event")
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}()

	s.logger.Info("catalog invalidation subscriber started")
	return nil
}

// HandleStagingCommitted invalidates the committing store's catalog pages
func (s *CatalogInvalidationSubscriber) HandleStagingCommitted(ctx context.Context, data []byte) error {
	var event models.StagingCommittedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal staging commit event: %w", err)
	}
	if event.StoreID <= 0 {
		return errors.New("staging commit event without store_id")
	}
	return s.invalidator.InvalidateBrand(ctx, event.StoreID)
}
