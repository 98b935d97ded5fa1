/**
 * @description
 * This file implements the bus gateway: the single place that knows how
 * spec topics map onto the broker, which topics run with auto-commit, and
 * how outgoing envelopes are stamped and serialized. Coordinators consume
 * and produce exclusively through the Gateway interface.
 *
 * @notes
 * - A "topic" is a routing key plus a same-named durable queue on one
 *   shared topic exchange. Manual ack is the manual offset commit;
 *   nack+requeue is redelivery of an uncommitted message.
 * - Produce operations stamp the event metadata block and publish the
 *   envelope as JSON; delivery is at-least-once.
 */

package bus

import (
	"context"
	"sync"

	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/pkg/rabbitmq"
)

// Message is one in-flight bus message bound to its topic and offset.
type Message struct {
	Topic      string
	Body       []byte
	AutoCommit bool
	commit     func() error
}

// NewMessage binds a raw message to its topic and commit hook.
func NewMessage(topic string, body []byte, autoCommit bool, commit func() error) *Message {
	return &Message{Topic: topic, Body: body, AutoCommit: autoCommit, commit: commit}
}

// Commit acknowledges the message (commits its offset). Idempotent, and a
// no-op on auto-commit topics.
func (m *Message) Commit() error {
	if m.commit == nil {
		return nil
	}
	return m.commit()
}

// Handler processes one message. Returning an error before the message is
// committed requeues it; after a commit the error only surfaces in logs.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// ConsumerOptions carry the per-topic consumer settings resolved from
// configuration by (CONSUMER, TRANSFER, <ACTION>).
type ConsumerOptions struct {
	Prefetch   int
	AutoCommit bool
}

// Gateway is the bus surface the coordinators and the registrar use.
type Gateway interface {
	CreateHandler(topic string, opts ConsumerOptions, handler Handler) error
	HasConsumer(topic string) bool
	IsAutoCommit(topic string) bool
	ProduceGeneralMessage(ctx context.Context, functionality, action string, envelope *domain.EventEnvelope, state domain.EventState) error
	ProduceParticipantMessage(ctx context.Context, participant, functionality, action string, envelope *domain.EventEnvelope, state domain.EventState) error
}

// RabbitGateway implements Gateway on the RabbitMQ client.
type RabbitGateway struct {
	producer rabbitmq.Publisher
	consumer *rabbitmq.Consumer
	exchange string

	mu     sync.RWMutex
	topics map[string]ConsumerOptions
}

// NewRabbitGateway builds a gateway over an established producer and
// consumer connection pair.
func NewRabbitGateway(producer rabbitmq.Publisher, consumer *rabbitmq.Consumer, exchange string) *RabbitGateway {
	return &RabbitGateway{
		producer: producer,
		consumer: consumer,
		exchange: exchange,
		topics:   make(map[string]ConsumerOptions),
	}
}

// CreateHandler binds a handler to a topic with one dedicated sequential
// worker. The consumer tag (client id) equals the topic name. Binding the
// same topic twice is a no-op so periodic participant refresh stays
// idempotent.
func (g *RabbitGateway) CreateHandler(topic string, opts ConsumerOptions, handler Handler) error {
	g.mu.Lock()
	if _, exists := g.topics[topic]; exists {
		g.mu.Unlock()
		return nil
	}
	g.topics[topic] = opts
	g.mu.Unlock()

	err := g.consumer.Subscribe(g.exchange, topic, topic, opts.Prefetch, opts.AutoCommit, func(d *rabbitmq.Delivery) error {
		return handler.Handle(context.Background(), NewMessage(topic, d.Body(), opts.AutoCommit, d.Ack))
	})
	if err != nil {
		g.mu.Lock()
		delete(g.topics, topic)
		g.mu.Unlock()
		return err
	}
	return nil
}

// HasConsumer reports whether a handler is bound to the topic.
func (g *RabbitGateway) HasConsumer(topic string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.topics[topic]
	return ok
}

// IsAutoCommit reports the commit mode a topic was bound with. Unbound
// topics report manual commit.
func (g *RabbitGateway) IsAutoCommit(topic string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topics[topic].AutoCommit
}

// ProduceGeneralMessage stamps and publishes an envelope to the shared
// topic of the given functionality (e.g. notification, fulfil).
func (g *RabbitGateway) ProduceGeneralMessage(ctx context.Context, functionality, action string, envelope *domain.EventEnvelope, state domain.EventState) error {
	envelope.StampEvent(functionality, action, state)
	return g.producer.Publish(ctx, g.exchange, GeneralTopic(functionality), envelope)
}

// ProduceParticipantMessage stamps and publishes an envelope to a
// per-participant topic (e.g. the payer's position topic).
func (g *RabbitGateway) ProduceParticipantMessage(ctx context.Context, participant, functionality, action string, envelope *domain.EventEnvelope, state domain.EventState) error {
	envelope.StampEvent(functionality, action, state)
	return g.producer.Publish(ctx, g.exchange, ParticipantTopic(participant, functionality, action), envelope)
}
