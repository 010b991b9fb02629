// Package bus implements the MessageBus client over RabbitMQ: a durable
// direct-routing exchange, persistent publishes, and manual-ack
// consumption fanned out across a bounded goroutine pool.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/notifyhub/notifyhub/internal/telemetry"
)

const (
	// ExchangeName is the durable direct-routing exchange every queue is
	// bound against.
	ExchangeName = "notifications.direct"

	minPollBackoff = 50 * time.Millisecond
	maxPollBackoff = 2 * time.Second
	pollBackoffRate = 1.5
)

// Queues maps a routing key to the durable queue bound to it.
var Queues = map[string]string{
	"email":  "email.queue",
	"push":   "push.queue",
	"failed": "failed.queue",
}

// Publisher is the narrow publish surface the gateway and worker retry
// scheduler depend on, satisfied by *Bus and by testutil.FakeBus.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, priority int) error
}

// Handler processes one delivery. Returning nil acks the message;
// returning an error nacks it without requeue, since this system's own
// retry/dead-letter ladder — not broker redelivery — is the retry
// mechanism for business-level failures (see WorkerPipeline's Retrying
// state, which republishes a new delivery rather than relying on requeue).
type Handler func(ctx context.Context, body []byte, priority int) error

// Bus wraps a single AMQP connection and channel.
type Bus struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	mu sync.Mutex // serializes Publish calls; an amqp.Channel is not safe for concurrent publish
}

// Connect dials url and opens a channel.
func Connect(url string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("bus: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	return &Bus{conn: conn, ch: ch}, nil
}

// DeclareTopology declares the notifications.direct exchange and the
// email/push/failed queues, binding each to its routing key.
func (b *Bus) DeclareTopology() error {
	if err := b.ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare exchange: %w", err)
	}
	for routingKey, queueName := range Queues {
		if _, err := b.ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("bus: declare queue %s: %w", queueName, err)
		}
		if err := b.ch.QueueBind(queueName, routingKey, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("bus: bind queue %s: %w", queueName, err)
		}
	}
	return nil
}

// Publish persistently publishes body to routingKey, forwarding priority
// as a header unchanged.
func (b *Bus) Publish(ctx context.Context, routingKey string, body []byte, priority int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ch.PublishWithContext(ctx, ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      amqp.Table{"priority": priority},
		Timestamp:    time.Now().UTC(),
	})
}

// PublishJSON marshals v and publishes it.
func (b *Bus) PublishJSON(ctx context.Context, routingKey string, v interface{}, priority int) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: encode payload for %s: %w", routingKey, err)
	}
	return b.Publish(ctx, routingKey, body, priority)
}

// Consume starts concurrency goroutines draining queue, each invoking
// handler once per delivery and acking or nacking based on its return
// value. Consume blocks until ctx is canceled or the delivery channel is
// closed.
func (b *Bus) Consume(ctx context.Context, queue string, concurrency int, handler Handler) error {
	logger := telemetry.LogFromContext(ctx)

	if err := b.ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("bus: set qos: %w", err)
	}

	msgs, err := b.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: consume %s: %w", queue, err)
	}

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					priority := 0
					if p, ok := d.Headers["priority"].(int32); ok {
						priority = int(p)
					}

					handlerCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
					err := handler(handlerCtx, d.Body, priority)
					cancel()

					if err != nil {
						logger.WithFields(map[string]interface{}{
							"queue": queue,
							"error": err.Error(),
						}).Warn("bus: handler returned error, nacking without requeue")
						_ = d.Nack(false, false)
						continue
					}
					_ = d.Ack(false)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// Close tears down the channel and connection.
func (b *Bus) Close() error {
	var errs []error
	if err := b.ch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("bus: close: %v", errs)
	}
	return nil
}

// backoffPoll computes the next adaptive retry interval, used by
// ConnectWithRetry between failed dial attempts.
func backoffPoll(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * pollBackoffRate)
	if next > maxPollBackoff {
		return maxPollBackoff
	}
	if next < minPollBackoff {
		return minPollBackoff
	}
	return next
}

// ConnectWithRetry dials url, retrying with the adaptive backoff above
// until ctx is canceled or a connection succeeds.
func ConnectWithRetry(ctx context.Context, url string) (*Bus, error) {
	logger := telemetry.LogFromContext(ctx)
	backoff := minPollBackoff
	for {
		b, err := Connect(url)
		if err == nil {
			return b, nil
		}
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("bus: connect failed, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("bus: connect canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff = backoffPoll(backoff)
		}
	}
}
