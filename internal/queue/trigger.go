package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"upscaler/internal/domain"
)

// TriggerMessage hands an accepted job to the processing pipeline. A
// successful publish means "accepted for processing", never "processing
// started".
type TriggerMessage struct {
	JobID    string           `json:"job_id"`
	Tool     domain.Tool      `json:"tool"`
	ImageURL string           `json:"image_url"`
	Params   domain.JobParams `json:"params"`
}

// TriggerPublisher publishes processing triggers onto a durable queue.
type TriggerPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewTriggerPublisher dials the broker and declares the trigger queue along
// with its dead-letter queue, matching the consumer's declarations.
func NewTriggerPublisher(url, queue string) (*TriggerPublisher, error) {
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
	return &TriggerPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func declareQueues(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(
		dlq,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}
	// Main queue dead-letters to the DLQ on reject/nack(requeue=false).
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		},
	)
	return err
}

// Close releases the channel and connection.
func (p *TriggerPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishTrigger enqueues one trigger message persistently.
func (p *TriggerPublisher) PublishTrigger(ctx context.Context, msg TriggerMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
