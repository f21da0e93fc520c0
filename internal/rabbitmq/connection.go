package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/osletta/eventbus/internal/reliability"
)

// Channel is the subset of *amqp.Channel the eventbus uses. Keeping it as
// an interface lets higher layers be tested without a live broker.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	IsClosed() bool
	Close() error
}

// Conn is a single broker session as handed out by the pool. While checked
// out it belongs to exactly one caller.
type Conn interface {
	// Channel opens a fresh channel on the session.
	Channel() (Channel, error)
	// IsOpen reports whether the underlying session is still usable.
	IsOpen() bool
	// CreatedAt returns when the session was established.
	CreatedAt() time.Time
	Close() error
}

// Connection wraps one live *amqp.Connection.
type Connection struct {
	conn      *amqp.Connection
	createdAt time.Time
}

func (c *Connection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, &ConnectionError{Op: "open channel", Err: err, Timestamp: time.Now()}
	}
	return ch, nil
}

func (c *Connection) IsOpen() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

func (c *Connection) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// Dialer establishes broker sessions and declares the exchange topology on
// each new session. Declaration is idempotent, so repeating it per
// connection is safe.
type Dialer struct {
	url       string
	exchanges []ExchangeDeclaration
	retry     reliability.Policy
	logger    *slog.Logger
}

// DialerOption configures the Dialer.
type DialerOption func(*Dialer)

// WithExchanges overrides the exchanges declared on connect.
func WithExchanges(exchanges []ExchangeDeclaration) DialerOption {
	return func(d *Dialer) {
		d.exchanges = exchanges
	}
}

// WithDialRetry sets the retry policy applied to the broker handshake.
func WithDialRetry(policy reliability.Policy) DialerOption {
	return func(d *Dialer) {
		d.retry = policy
	}
}

// WithDialerLogger sets the logger.
func WithDialerLogger(logger *slog.Logger) DialerOption {
	return func(d *Dialer) {
		d.logger = logger
	}
}

// NewDialer creates a dialer for the given AMQP URL. By default it retries
// the handshake five times with a fixed two second delay and declares the
// default event exchanges.
func NewDialer(url string, options ...DialerOption) *Dialer {
	d := &Dialer{
		url:       url,
		exchanges: DefaultExchanges(),
		retry:     reliability.NewFixedDelay(2*time.Second, 5),
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Dial establishes a new session, retrying transient failures per the
// configured policy, and declares the exchange topology.
func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	var conn *amqp.Connection
	attempts := 0

	err := reliability.Retry(ctx, d.retry, func() error {
		attempts++
		c, err := amqp.Dial(d.url)
		if err != nil {
			d.logger.Warn("broker dial failed",
				"url", SanitizeURL(d.url),
				"attempt", attempts,
				"error", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, &ConnectionError{
			Op:        "dial",
			URL:       SanitizeURL(d.url),
			Err:       fmt.Errorf("%w: %w", ErrDialFailed, err),
			Attempts:  attempts,
			Timestamp: time.Now(),
		}
	}

	wrapped := &Connection{conn: conn, createdAt: time.Now()}

	ch, err := wrapped.Channel()
	if err != nil {
		wrapped.Close()
		return nil, err
	}
	defer ch.Close()

	if err := DeclareExchanges(ch, d.exchanges); err != nil {
		wrapped.Close()
		return nil, err
	}

	d.logger.Info("connected to broker", "url", SanitizeURL(d.url))
	return wrapped, nil
}
