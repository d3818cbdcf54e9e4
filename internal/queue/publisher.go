package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/studio-booking/internal/model"
)

// Publisher publishes notifications to a durable queue.  It keeps one
// connection and channel open and redials lazily after the broker drops
// them.  Safe for concurrent use.
type Publisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher for url.  No connection is made until
// the first Notify.
func NewPublisher(url, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Publisher{url: url, queue: queueName}
}

// channel returns an open channel, dialing when needed.  Callers hold mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

// Notify publishes n as a persistent JSON message.  Errors are logged and
// returned; the engine never fails a booking because of them.
func (p *Publisher) Notify(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(NewNotificationEvent(n))
	if err != nil {
		log.Printf("rabbitmq: marshal notification failed: %v", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		log.Printf("rabbitmq: %v", err)
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(n.Kind),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		log.Printf("rabbitmq: publish %s failed: %v", n.Kind, err)
		p.closeLocked()
		return err
	}
	return nil
}

// Close releases the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
