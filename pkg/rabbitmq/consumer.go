package rabbitmq

import (
	"fmt"
	"log"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery wraps one broker delivery. Handlers acknowledge through Ack,
// which may happen mid-pipeline; the consumer loop settles any delivery the
// handler left unacknowledged.
type Delivery struct {
	d       amqp.Delivery
	autoAck bool
	acked   bool
}

// Body returns the raw message bytes.
func (d *Delivery) Body() []byte { return d.d.Body }

// RoutingKey returns the routing key the message arrived on.
func (d *Delivery) RoutingKey() string { return d.d.RoutingKey }

// Ack acknowledges the delivery. It is idempotent and a no-op when the
// subscription was opened in auto-ack mode.
func (d *Delivery) Ack() error {
	if d.autoAck || d.acked {
		return nil
	}
	if err := d.d.Ack(false); err != nil {
		return err
	}
	d.acked = true
	return nil
}

// Acked reports whether the delivery has been acknowledged.
func (d *Delivery) Acked() bool { return d.autoAck || d.acked }

// Consumer manages one broker connection and one channel per subscription,
// giving each topic its own sequential worker.
type Consumer struct {
	conn     *amqp.Connection
	channels []*amqp.Channel
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	return &Consumer{conn: conn}, nil
}

// Subscribe binds a durable queue named after the topic to the exchange and
// starts a worker goroutine delivering messages to the handler one at a
// time. The consumer tag equals the topic name. With autoAck off, a handler
// error on an unacknowledged delivery requeues it; a handler that already
// acknowledged keeps its ack (the error is logged, never re-raised into the
// broker).
func (c *Consumer) Subscribe(exchange, topic, consumerTag string, prefetch int, autoAck bool, handler func(*Delivery) error) error {
	if handler == nil {
		return fmt.Errorf("no handler provided for topic %s", topic)
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return err
	}

	q, err := ch.QueueDeclare(topic, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}

	if err := ch.QueueBind(q.Name, topic, exchange, false, nil); err != nil {
		ch.Close()
		return err
	}

	if !autoAck && prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			return err
		}
	}

	msgs, err := ch.Consume(q.Name, consumerTag, autoAck, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}

	c.channels = append(c.channels, ch)

	go func() {
		for d := range msgs {
			delivery := &Delivery{d: d, autoAck: autoAck}
			err := handler(delivery)
			if autoAck {
				continue
			}
			switch {
			case err != nil && !delivery.Acked():
				log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" topic=%s err=%v", topic, err)
				if nackErr := d.Nack(false, true); nackErr != nil {
					log.Printf("level=error component=rabbitmq_consumer msg=\"nack failed\" topic=%s err=%v", topic, nackErr)
				}
			case err != nil:
				// Offset already committed; the failure concerns only the
				// downstream produce. Operators replay from there.
				log.Printf("level=error component=rabbitmq_consumer msg=\"handler failed after commit\" topic=%s err=%v", topic, err)
			case !delivery.Acked():
				if ackErr := delivery.Ack(); ackErr != nil {
					log.Printf("level=error component=rabbitmq_consumer msg=\"ack failed\" topic=%s err=%v", topic, ackErr)
				}
			}
		}
		log.Printf("level=warn component=rabbitmq_consumer msg=\"delivery channel closed\" topic=%s", topic)
	}()

	return nil
}

func (c *Consumer) Close() {
	for _, ch := range c.channels {
		ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
