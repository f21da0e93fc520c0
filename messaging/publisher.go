package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/osletta/eventbus/internal/rabbitmq"
	"github.com/osletta/eventbus/internal/reliability"
)

// ConnectionPool is the subset of the broker pool the messaging layer uses.
type ConnectionPool interface {
	Acquire(ctx context.Context) (rabbitmq.Conn, error)
	Release(conn rabbitmq.Conn)
}

// EventPublisher queues events in memory and drains them in batches on a
// single background goroutine. Publish never waits on the network.
type EventPublisher struct {
	pool         ConnectionPool
	queue        *outboundQueue
	batchSize    int
	pollInterval time.Duration
	backoff      reliability.Policy
	logger       *slog.Logger
	now          func() time.Time

	startOnce sync.Once
	stopped   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// PublisherOption configures the publisher.
type PublisherOption func(*EventPublisher)

// WithBatchSize sets how many events one drain iteration publishes.
func WithBatchSize(n int) PublisherOption {
	return func(p *EventPublisher) {
		p.batchSize = n
	}
}

// WithPollInterval sets how long the drain goroutine sleeps when the queue
// is empty.
func WithPollInterval(d time.Duration) PublisherOption {
	return func(p *EventPublisher) {
		p.pollInterval = d
	}
}

// WithPublishBackoff sets the backoff applied after a batch fails to
// acquire a connection.
func WithPublishBackoff(policy reliability.Policy) PublisherOption {
	return func(p *EventPublisher) {
		p.backoff = policy
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *EventPublisher) {
		p.logger = logger
	}
}

// NewEventPublisher creates a publisher draining through the given pool.
func NewEventPublisher(pool ConnectionPool, options ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		pool:         pool,
		queue:        newOutboundQueue(),
		batchSize:    50,
		pollInterval: 100 * time.Millisecond,
		backoff:      reliability.NewFixedDelay(time.Second, 1),
		logger:       slog.Default(),
		now:          time.Now,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish stamps the payload and appends the event to the outbound queue.
// It returns true once the event is accepted into memory; delivery to the
// broker is best effort and happens later on the drain goroutine. A
// stopped publisher refuses events and returns false.
func (p *EventPublisher) Publish(exchange, routingKey string, payload map[string]any) bool {
	if p.stopped.Load() {
		p.logger.Warn("event refused",
			"exchange", exchange,
			"routingKey", routingKey,
			"error", ErrPublisherClosed)
		return false
	}

	ev := Event{Exchange: exchange, RoutingKey: routingKey, Payload: payload}
	ev.stamp(p.now)
	p.queue.push(ev)
	return true
}

// Start launches the drain goroutine. Calling Start more than once has no
// effect: at most one drain goroutine runs per publisher.
func (p *EventPublisher) Start() {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		go p.drainLoop(ctx)
	})
}

// Stop cancels the drain goroutine and waits for it to exit. Events still
// queued are dropped, matching the crash-only delivery contract.
func (p *EventPublisher) Stop() {
	p.stopped.Store(true)
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Depth returns the number of events waiting in the outbound queue.
func (p *EventPublisher) Depth() int {
	return p.queue.depth()
}

func (p *EventPublisher) drainLoop(ctx context.Context) {
	defer close(p.done)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		batch := p.queue.take(p.batchSize)
		if len(batch) == 0 {
			select {
			case <-time.After(p.pollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := p.publishBatch(ctx, batch); err != nil {
			// The whole batch goes back on the tail; individual events
			// inside a delivered batch are never retried.
			p.queue.push(batch...)
			p.logger.Warn("publish batch failed, requeued",
				"size", len(batch),
				"error", err)
			if reliability.Sleep(ctx, p.backoff, failures) != nil {
				return
			}
			failures++
			continue
		}
		failures = 0
	}
}

// publishBatch sends every event in the batch over one pooled connection,
// in enqueue order. An error is returned only when no connection or
// channel could be obtained; per-event publish failures are logged and the
// event is dropped.
func (p *EventPublisher) publishBatch(ctx context.Context, batch []Event) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer p.pool.Release(conn)

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	for _, ev := range batch {
		body, err := json.Marshal(ev.Payload)
		if err != nil {
			p.logger.Error("event payload not serializable, dropped",
				"exchange", ev.Exchange,
				"routingKey", ev.RoutingKey,
				"error", err)
			continue
		}

		err = ch.PublishWithContext(
			ctx,
			ev.Exchange,
			ev.RoutingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
			},
		)
		if err != nil {
			p.logger.Error("event dropped",
				"traceId", ev.traceID(),
				"error", &PublishError{Exchange: ev.Exchange, RoutingKey: ev.RoutingKey, Err: err})
			continue
		}

		p.logger.Debug("published event",
			"exchange", ev.Exchange,
			"routingKey", ev.RoutingKey,
			"traceId", ev.traceID())
	}

	return nil
}
