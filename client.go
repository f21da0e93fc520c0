// Package eventbus wires together the pooled broker connections, the
// batching event publisher, the durable event consumers, and the scoped
// database-session manager of the auth service.
//
// Route handlers see two operations: Publish, which accepts an event into
// memory and returns immediately, and WithSession, which runs a unit of
// database work inside one committed-or-rolled-back session. Service
// bootstrap additionally calls Subscribe to start long-lived consumers.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osletta/eventbus/internal/rabbitmq"
	"github.com/osletta/eventbus/internal/reliability"
	"github.com/osletta/eventbus/messaging"
	"github.com/osletta/eventbus/session"
)

// ErrNoDatabase is returned by WithSession when the client was built
// without a database URL.
var ErrNoDatabase = errors.New("eventbus: no database configured")

// Client is the service-facing entry point. One Client owns one broker
// connection pool, one publisher, one consumer, and optionally one
// database pool; it is safe for concurrent use.
type Client struct {
	cfg    Config
	logger *slog.Logger

	pool      *rabbitmq.ConnectionPool
	publisher *messaging.EventPublisher
	consumer  *messaging.EventConsumer

	db       *pgxpool.Pool
	sessions *session.Manager
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger  *slog.Logger
	factory rabbitmq.Factory
}

// WithLogger sets the logger used by every component.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithConnectionFactory overrides how broker connections are created.
// Tests use it to run without a broker.
func WithConnectionFactory(factory rabbitmq.Factory) ClientOption {
	return func(c *clientConfig) {
		c.factory = factory
	}
}

// NewClient builds a client from the config. No network activity happens
// until Start, Publish, or Subscribe.
func NewClient(cfg Config, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cc := &clientConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(cc)
	}

	factory := cc.factory
	if factory == nil {
		dialer := rabbitmq.NewDialer(cfg.BrokerURL,
			rabbitmq.WithDialRetry(reliability.NewFixedDelay(cfg.DialDelay, cfg.DialAttempts)),
			rabbitmq.WithDialerLogger(cc.logger),
		)
		factory = dialer.Dial
	}

	pool, err := rabbitmq.NewConnectionPool(factory,
		rabbitmq.WithCapacity(cfg.PoolCapacity),
		rabbitmq.WithAcquireTimeout(cfg.AcquireTimeout),
		rabbitmq.WithPoolLogger(cc.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create pool: %w", err)
	}

	publisher := messaging.NewEventPublisher(pool,
		messaging.WithBatchSize(cfg.BatchSize),
		messaging.WithPollInterval(cfg.PollInterval),
		messaging.WithPublishBackoff(reliability.NewFixedDelay(cfg.PublishRetryDelay, 1)),
		messaging.WithPublisherLogger(cc.logger),
	)

	consumer := messaging.NewEventConsumer(pool,
		messaging.WithPrefetch(cfg.Prefetch),
		messaging.WithConsumeBackoff(reliability.NewFixedDelay(cfg.ConsumeRetryDelay, 1)),
		messaging.WithMaxRedeliveries(cfg.MaxRedeliveries),
		messaging.WithConsumerLogger(cc.logger),
	)

	return &Client{
		cfg:       cfg,
		logger:    cc.logger,
		pool:      pool,
		publisher: publisher,
		consumer:  consumer,
	}, nil
}

// Start connects the database (when configured) and launches the publisher
// drain goroutine. It is called once by service bootstrap.
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.DatabaseURL != "" {
		db, err := session.Connect(ctx, c.cfg.DatabaseURL,
			reliability.NewFixedDelay(c.cfg.DialDelay, c.cfg.DialAttempts), c.logger)
		if err != nil {
			return err
		}
		c.db = db
		c.sessions = session.NewManager(db, session.WithManagerLogger(c.logger))
	}

	c.publisher.Start()
	return nil
}

// Publish accepts an event into the outbound queue and returns true. It
// never blocks on the network and never fails due to broker availability.
func (c *Client) Publish(exchange, routingKey string, payload map[string]any) bool {
	return c.publisher.Publish(exchange, routingKey, payload)
}

// Subscribe starts a background subscription delivering decoded payloads
// to handler. The returned handle outlives broker outages.
func (c *Client) Subscribe(ctx context.Context, queue string, routingKeys []string, exchange string, handler messaging.Handler) *messaging.Subscription {
	return c.consumer.Subscribe(ctx, queue, routingKeys, exchange, handler)
}

// WithSession runs fn inside one scoped database session.
func (c *Client) WithSession(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if c.sessions == nil {
		return ErrNoDatabase
	}
	return c.sessions.WithSession(ctx, fn)
}

// Sessions exposes the session manager, or nil before Start or without a
// database.
func (c *Client) Sessions() *session.Manager {
	return c.sessions
}

// Stats is a diagnostics snapshot. None of these values gate behavior.
type Stats struct {
	Connections      int // live broker connections, idle and checked out
	IdleConnections  int
	QueueDepth       int // events waiting in the outbound queue
	InFlightSessions int
}

// Stats returns a point-in-time diagnostics snapshot.
func (c *Client) Stats() Stats {
	s := Stats{
		Connections:     c.pool.Size(),
		IdleConnections: c.pool.Idle(),
		QueueDepth:      c.publisher.Depth(),
	}
	if c.sessions != nil {
		s.InFlightSessions = c.sessions.InFlight()
	}
	return s
}

// Close stops the publisher and all subscriptions, destroys the pooled
// broker connections, and closes the database pool. Shutdown is best
// effort: events still queued are dropped.
func (c *Client) Close() error {
	c.publisher.Stop()
	c.consumer.StopAll()
	c.pool.CloseAll()
	if c.db != nil {
		c.db.Close()
	}
	return nil
}
