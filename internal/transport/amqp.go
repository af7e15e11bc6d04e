// Package transport implements the RabbitMQ message transport. The API only
// produces messages (check requests and check results) and reads queue
// statistics; consuming is the job of the server daemons.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// reconnectDelay is how long the watcher waits between connection attempts.
const reconnectDelay = 5 * time.Second

// QueueStats is a point-in-time snapshot of a queue's depth and consumer
// count.
type QueueStats struct {
	Messages  int
	Consumers int
}

// Broker is an AMQP connection that republishes itself after broker
// restarts. All channel operations are serialized; the API's publish volume
// does not warrant more.
type Broker struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Dial validates the AMQP URL, attempts an initial connection, and starts
// the reconnect watcher. An unreachable broker is not an error: the Broker
// reports Connected() == false and the watcher keeps retrying.
func Dial(ctx context.Context, url string) (*Broker, error) {
	if _, err := amqp.ParseURI(url); err != nil {
		return nil, fmt.Errorf("parse amqp url: %w", err)
	}

	b := &Broker{url: url}
	if err := b.connect(); err != nil {
		slog.Warn("rabbitmq not reachable at startup", "error", err)
	} else {
		slog.Info("rabbitmq connected")
	}

	b.watch()
	return b, nil
}

// connect establishes a fresh connection and channel.
func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()
	b.connected.Store(true)
	return nil
}

// watch starts the background goroutine that observes connection closures
// and reconnects with a fixed delay.
func (b *Broker) watch() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		for {
			b.mu.Lock()
			conn := b.conn
			b.mu.Unlock()

			if conn == nil || conn.IsClosed() {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
				if err := b.connect(); err != nil {
					slog.Warn("rabbitmq reconnect failed", "error", err)
					continue
				}
				slog.Info("rabbitmq connection established")
				continue
			}

			closed := conn.NotifyClose(make(chan *amqp.Error, 1))
			select {
			case <-ctx.Done():
				return
			case amqpErr := <-closed:
				b.connected.Store(false)
				if amqpErr != nil {
					slog.Warn("rabbitmq connection lost", "error", amqpErr)
				}
			}
		}
	}()
}

// Connected reports the last known connectivity status.
func (b *Broker) Connected() bool {
	return b.connected.Load()
}

// Close stops the watcher and closes the connection.
func (b *Broker) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected.Store(false)
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn.Close()
	}
	return nil
}

// Publish declares the exchange (direct or fanout, non-durable) and publishes
// the payload to it with an empty routing key, matching how the server
// daemons bind their queues.
func (b *Broker) Publish(ctx context.Context, exchangeType, name string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel()
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(name, exchangeType, false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	err = ch.PublishWithContext(ctx, name, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", name, err)
	}
	return nil
}

// Stats declares the queue (idempotent, same properties the server daemons
// use) and returns its message and consumer counts.
func (b *Broker) Stats(ctx context.Context, queue string) (QueueStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel()
	if err != nil {
		return QueueStats{}, err
	}

	q, err := ch.QueueDeclare(queue, false, true, false, false, nil)
	if err != nil {
		return QueueStats{}, fmt.Errorf("inspect queue %s: %w", queue, err)
	}
	return QueueStats{Messages: q.Messages, Consumers: q.Consumers}, nil
}

// channel returns a usable channel, reopening it when a previous operation
// failed with a channel-level exception. Callers must hold mu.
func (b *Broker) channel() (*amqp.Channel, error) {
	if b.conn == nil || b.conn.IsClosed() {
		return nil, fmt.Errorf("transport not connected")
	}
	if b.ch == nil || b.ch.IsClosed() {
		ch, err := b.conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("open channel: %w", err)
		}
		b.ch = ch
	}
	return b.ch, nil
}
