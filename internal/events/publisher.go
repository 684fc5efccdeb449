package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/models"
)

const (
	StreamName     = "LOOK_EVENTS"
	streamSubjects = "look.>"
)

// Connect opens a NATS connection that keeps reconnecting in the background
// and a JetStream context on top of it
func Connect(url, name string, logger *logrus.Logger) (*nats.Conn, jetstream.JetStream, error) {
	log := logger.WithField("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectBufSize(8*1024*1024),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("reconnected")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("disconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("async error")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the stream holding every look.* subject
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{streamSubjects},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Storage:    jetstream.FileStorage,
		Replicas:   1,
		Duplicates: 10 * time.Minute,
	})
	return err
}

// Publisher publishes outbox events to JetStream
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *logrus.Entry
}

// NewPublisher connects to NATS and makes sure the stream exists
func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	nc, js, err := Connect(url, "look-marketplace", logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := EnsureStream(ctx, js); err != nil {
		logger.WithError(err).Warn("Failed to ensure events stream (may already exist)")
	}

	return &Publisher{
		nc:     nc,
		js:     js,
		logger: logger.WithField("component", "events_publisher"),
	}, nil
}

// JetStream exposes the JetStream context for subscribers sharing the connection
func (p *Publisher) JetStream() jetstream.JetStream {
	return p.js
}

// Publish sends one outbox event. The event id doubles as the message id, so a
// relay that re-sends after a crash is deduplicated by the stream.
func (p *Publisher) Publish(ctx context.Context, event models.OutboxEvent) error {
	ack, err := p.js.Publish(ctx, event.Subject, event.Payload, jetstream.WithMsgID(event.ID.String()))
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Subject, err)
	}
	p.logger.WithFields(logrus.Fields{
		"subject":   event.Subject,
		"event_id":  event.ID,
		"sequence":  ack.Sequence,
		"duplicate": ack.Duplicate,
	}).Debug("event published")
	return nil
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
