package queue

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TriggerConsumer receives processing triggers from the durable queue.
type TriggerConsumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewTriggerConsumer dials the broker and declares the same queue topology
// as the publisher.
func NewTriggerConsumer(url, queue string, prefetch int) (*TriggerConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &TriggerConsumer{conn: conn, ch: ch, queue: queue}, nil
}

// Close releases the channel and connection.
func (c *TriggerConsumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Consume delivers triggers until ctx is cancelled. An undecodable message is
// poison and dead-letters immediately; a handler error is assumed transient
// (a database blip must not strand the job for the sweeper) and the message
// is redelivered once before it dead-letters too.
func (c *TriggerConsumer) Consume(ctx context.Context, handle func(ctx context.Context, msg TriggerMessage) error) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			msg, err := decodeTrigger(d.Body)
			if err != nil {
				_ = d.Nack(false, false)
				continue
			}
			if err := handle(ctx, msg); err != nil {
				_ = d.Nack(false, retryDelivery(d))
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// decodeTrigger parses a delivery body. A decode failure marks the message as
// poison; no number of redeliveries would make it processable.
func decodeTrigger(body []byte) (TriggerMessage, error) {
	var msg TriggerMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return TriggerMessage{}, err
	}
	if msg.JobID == "" {
		return TriggerMessage{}, errors.New("queue: trigger without job id")
	}
	return msg, nil
}

// retryDelivery reports whether a failed delivery should be requeued. Each
// trigger gets exactly one retry; a failure on the redelivery dead-letters.
func retryDelivery(d amqp.Delivery) bool {
	return !d.Redelivered
}
