package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/cockroachdb/errors"
	"github.com/warp/ledger-engine/logger"
)

// Bus publishes events through a watermill publisher.
type Bus struct {
	publisher   message.Publisher
	topicPrefix string
	log         *logger.Logger
}

// NewBus wraps any watermill publisher.
func NewBus(publisher message.Publisher, topicPrefix string, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNop()
	}
	return &Bus{publisher: publisher, topicPrefix: topicPrefix, log: log}
}

// NewMemoryBus returns a bus over an in-process gochannel. The returned
// GoChannel is also a message.Subscriber for local consumers and tests.
func NewMemoryBus(topicPrefix string, log *logger.Logger) (*Bus, *gochannel.GoChannel) {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 100,
		Persistent:          false,
	}, NewWatermillLogger(log))
	return NewBus(ch, topicPrefix, log), ch
}

// NewKafkaBus returns a bus publishing to Kafka.
func NewKafkaBus(brokers []string, topicPrefix string, log *logger.Logger) (*Bus, error) {
	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, NewWatermillLogger(log))
	if err != nil {
		return nil, errors.Wrap(err, "create kafka publisher")
	}
	return NewBus(pub, topicPrefix, log), nil
}

// Topic returns the topic an event name is published on.
func (b *Bus) Topic(name Name) string {
	return b.topicPrefix + string(name)
}

// Publish encodes the event as JSON and sends it.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrapf(err, "encode event %s", e.Name)
	}

	id := e.ID
	if id == "" {
		id = watermill.NewULID()
	}
	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_name", string(e.Name))
	msg.Metadata.Set("company_id", string(e.CompanyID))
	msg.Metadata.Set("invoice_id", string(e.InvoiceID))

	topic := b.Topic(e.Name)
	if err := b.publisher.Publish(topic, msg); err != nil {
		b.log.Errorw("failed to publish event",
			"error", err,
			"event_id", id,
			"event_name", e.Name,
			"company_id", e.CompanyID,
			"topic", topic)
		return errors.Wrapf(err, "publish %s", e.Name)
	}

	b.log.Debugw("event published",
		"event_id", id,
		"event_name", e.Name,
		"company_id", e.CompanyID,
		"invoice_id", e.InvoiceID,
		"topic", topic)
	return nil
}

// Close closes the underlying publisher.
func (b *Bus) Close() error {
	return b.publisher.Close()
}

var _ Publisher = (*Bus)(nil)
