package messaging

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/osletta/eventbus/internal/rabbitmq"
)

// stubChannel records everything the messaging layer does with a channel.
type stubChannel struct {
	mu         sync.Mutex
	published  []amqp.Publishing
	routed     []string // "exchange/key" per publish, in order
	declared   []string
	bindings   []string // "queue|key|exchange"
	qosCount   int
	closed     bool
	deliveries chan amqp.Delivery

	publishErr func(msg amqp.Publishing) error
	declareErr error
	bindErr    error
	qosErr     error
	consumeErr error
}

func newStubChannel() *stubChannel {
	return &stubChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (c *stubChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return nil
}

func (c *stubChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *stubChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bindErr != nil {
		return c.bindErr
	}
	c.bindings = append(c.bindings, name+"|"+key+"|"+exchange)
	return nil
}

func (c *stubChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qosErr != nil {
		return c.qosErr
	}
	c.qosCount = prefetchCount
	return nil
}

func (c *stubChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		if err := c.publishErr(msg); err != nil {
			return err
		}
	}
	c.published = append(c.published, msg)
	c.routed = append(c.routed, exchange+"/"+key)
	return nil
}

func (c *stubChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	return c.deliveries, nil
}

func (c *stubChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *stubChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubChannel) publishedBodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.published))
	for i, p := range c.published {
		out[i] = string(p.Body)
	}
	return out
}

func (c *stubChannel) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

// stubConn hands out channels from a factory so reconnect cycles can see
// fresh ones.
type stubConn struct {
	mu      sync.Mutex
	open    bool
	channel func() (rabbitmq.Channel, error)
}

func newStubConn(ch *stubChannel) *stubConn {
	return &stubConn{
		open:    true,
		channel: func() (rabbitmq.Channel, error) { return ch, nil },
	}
}

func (c *stubConn) Channel() (rabbitmq.Channel, error) {
	return c.channel()
}

func (c *stubConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *stubConn) CreatedAt() time.Time {
	return time.Time{}
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// stubPool satisfies ConnectionPool without a broker. The first failures
// Acquire calls return ErrPoolExhausted.
type stubPool struct {
	mu       sync.Mutex
	conn     rabbitmq.Conn
	failures int
	acquires int
	releases int
}

func newStubPool(conn rabbitmq.Conn) *stubPool {
	return &stubPool{conn: conn}
}

func (p *stubPool) Acquire(ctx context.Context) (rabbitmq.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.failures > 0 {
		p.failures--
		return nil, rabbitmq.ErrPoolExhausted
	}
	return p.conn, nil
}

func (p *stubPool) Release(conn rabbitmq.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
}

func (p *stubPool) acquireCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires
}

func (p *stubPool) releaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}
