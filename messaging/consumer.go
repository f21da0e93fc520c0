package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/osletta/eventbus/internal/rabbitmq"
	"github.com/osletta/eventbus/internal/reliability"
)

// Handler processes one decoded event payload. Returning an error makes
// the delivery get negatively acknowledged and requeued.
type Handler func(payload map[string]any) error

// EventConsumer starts one supervised goroutine per subscription. Each
// subscription binds a durable queue to an exchange, consumes with a
// bounded prefetch, and survives connection loss by reconnecting after a
// backoff.
type EventConsumer struct {
	pool            ConnectionPool
	prefetch        int
	backoff         reliability.Policy
	maxRedeliveries int
	logger          *slog.Logger

	mu   sync.Mutex
	subs []*Subscription
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*EventConsumer)

// WithPrefetch sets the per-subscription prefetch count.
func WithPrefetch(n int) ConsumerOption {
	return func(c *EventConsumer) {
		c.prefetch = n
	}
}

// WithConsumeBackoff sets the delay applied between reconnect cycles.
func WithConsumeBackoff(policy reliability.Policy) ConsumerOption {
	return func(c *EventConsumer) {
		c.backoff = policy
	}
}

// WithMaxRedeliveries caps how many times a failing message is requeued
// before being dropped. Zero means unbounded redelivery.
func WithMaxRedeliveries(n int) ConsumerOption {
	return func(c *EventConsumer) {
		c.maxRedeliveries = n
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *EventConsumer) {
		c.logger = logger
	}
}

// NewEventConsumer creates a consumer over the given pool.
func NewEventConsumer(pool ConnectionPool, options ...ConsumerOption) *EventConsumer {
	c := &EventConsumer{
		pool:     pool,
		prefetch: 1,
		backoff:  reliability.NewFixedDelay(5*time.Second, 1),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscription is the handle of one running subscription goroutine.
type Subscription struct {
	Queue       string
	Exchange    string
	RoutingKeys []string

	consumer *EventConsumer
	handler  Handler
	cancel   context.CancelFunc
	done     chan struct{}

	failMu   sync.Mutex
	failures map[string]int // trace_id -> failed deliveries
}

// Subscribe declares a durable queue bound to the exchange under the given
// routing keys and starts consuming on a dedicated goroutine. The loop has
// no terminal state: it reconnects after every error until Stop is called
// or ctx is cancelled.
func (c *EventConsumer) Subscribe(ctx context.Context, queue string, routingKeys []string, exchange string, handler Handler) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)

	s := &Subscription{
		Queue:       queue,
		Exchange:    exchange,
		RoutingKeys: routingKeys,
		consumer:    c,
		handler:     handler,
		cancel:      cancel,
		done:        make(chan struct{}),
		failures:    make(map[string]int),
	}

	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	go s.run(subCtx)
	return s
}

// StopAll stops every subscription and waits for the goroutines to exit.
func (c *EventConsumer) StopAll() {
	c.mu.Lock()
	subs := make([]*Subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		s.Stop()
	}
}

// Stop cancels the subscription and waits for its goroutine to exit.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed when the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	logger := s.consumer.logger
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.consume(ctx)
		if ctx.Err() != nil {
			logger.Info("subscription stopped", "queue", s.Queue)
			return
		}
		logger.Warn("consumer disconnected, will reconnect",
			"queue", s.Queue,
			"error", err)

		if reliability.Sleep(ctx, s.consumer.backoff, attempt) != nil {
			return
		}
		attempt++
	}
}

// consume runs one connect-bind-receive cycle. It returns when the channel
// or connection fails, or when ctx is cancelled.
func (s *Subscription) consume(ctx context.Context) error {
	c := s.consumer

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return &ConsumerError{Queue: s.Queue, Op: "acquire connection", Err: err}
	}
	defer c.pool.Release(conn)

	ch, err := conn.Channel()
	if err != nil {
		return &ConsumerError{Queue: s.Queue, Op: "open channel", Err: err}
	}
	defer ch.Close()

	if _, err := rabbitmq.DeclareQueue(ch, s.Queue); err != nil {
		return &ConsumerError{Queue: s.Queue, Op: "declare queue", Err: err}
	}
	if err := rabbitmq.BindQueue(ch, s.Queue, s.Exchange, s.RoutingKeys...); err != nil {
		return &ConsumerError{Queue: s.Queue, Op: "bind queue", Err: err}
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return &ConsumerError{Queue: s.Queue, Op: "set qos", Err: err}
	}

	deliveries, err := ch.Consume(
		s.Queue,
		"",    // consumer tag, broker assigned
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return &ConsumerError{Queue: s.Queue, Op: "start consuming", Err: err}
	}

	c.logger.Info("consuming",
		"queue", s.Queue,
		"exchange", s.Exchange,
		"routingKeys", s.RoutingKeys)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case delivery, ok := <-deliveries:
			if !ok {
				return &ConsumerError{Queue: s.Queue, Op: "consume", Err: rabbitmq.ErrConnectionClosed}
			}
			s.handleDelivery(delivery)
		}
	}
}

func (s *Subscription) handleDelivery(delivery amqp.Delivery) {
	logger := s.consumer.logger

	var payload map[string]any
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		// Undecodable messages would fail on every redelivery; drop them.
		logger.Error("undecodable message dropped",
			"queue", s.Queue,
			"error", err)
		s.nack(delivery, false)
		return
	}

	if err := s.invoke(payload); err != nil {
		traceID, _ := payload[traceIDField].(string)
		logger.Error("handler failed",
			"queue", s.Queue,
			"traceId", traceID,
			"error", err)

		if s.exceededRedeliveries(traceID) {
			logger.Error("redelivery cap reached, message dropped",
				"queue", s.Queue,
				"traceId", traceID)
			s.nack(delivery, false)
			return
		}
		s.nack(delivery, true)
		return
	}

	s.clearFailures(payload)
	if err := delivery.Ack(false); err != nil {
		logger.Error("failed to ack message", "queue", s.Queue, "error", err)
	}
}

// invoke runs the handler, converting a panic into an error so one bad
// message cannot kill the subscription goroutine.
func (s *Subscription) invoke(payload map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return s.handler(payload)
}

func (s *Subscription) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		s.consumer.logger.Error("failed to nack message",
			"queue", s.Queue,
			"requeue", requeue,
			"error", err)
	}
}

// exceededRedeliveries counts a failed delivery against the trace id and
// reports whether the configured cap is now exceeded. With no cap, or no
// trace id to correlate on, redelivery is unbounded.
func (s *Subscription) exceededRedeliveries(traceID string) bool {
	max := s.consumer.maxRedeliveries
	if max <= 0 || traceID == "" {
		return false
	}

	s.failMu.Lock()
	defer s.failMu.Unlock()

	s.failures[traceID]++
	if s.failures[traceID] > max {
		delete(s.failures, traceID)
		return true
	}
	return false
}

func (s *Subscription) clearFailures(payload map[string]any) {
	traceID, _ := payload[traceIDField].(string)
	if traceID == "" {
		return
	}
	s.failMu.Lock()
	delete(s.failures, traceID)
	s.failMu.Unlock()
}
