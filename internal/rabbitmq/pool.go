package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Factory creates a new broker session on behalf of the pool.
type Factory func(ctx context.Context) (Conn, error)

// ConnectionPool is a bounded pool of broker sessions. Connections are
// created lazily up to capacity; callers that find the pool exhausted
// block for a bounded interval and then fail with ErrPoolExhausted.
type ConnectionPool struct {
	factory        Factory
	idle           chan Conn
	capacity       int
	acquireTimeout time.Duration
	logger         *slog.Logger

	mu     sync.Mutex
	live   int
	closed bool
}

// PoolOption configures the connection pool.
type PoolOption func(*ConnectionPool)

// WithCapacity sets the maximum number of live connections.
func WithCapacity(n int) PoolOption {
	return func(p *ConnectionPool) {
		p.capacity = n
	}
}

// WithAcquireTimeout bounds how long Acquire waits when the pool is
// exhausted.
func WithAcquireTimeout(d time.Duration) PoolOption {
	return func(p *ConnectionPool) {
		p.acquireTimeout = d
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *ConnectionPool) {
		p.logger = logger
	}
}

// NewConnectionPool creates a pool backed by the given factory.
func NewConnectionPool(factory Factory, options ...PoolOption) (*ConnectionPool, error) {
	if factory == nil {
		return nil, fmt.Errorf("rabbitmq: pool factory is nil")
	}

	p := &ConnectionPool{
		factory:        factory,
		capacity:       10,
		acquireTimeout: 5 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	if p.capacity < 1 {
		return nil, fmt.Errorf("rabbitmq: pool capacity must be at least 1, got %d", p.capacity)
	}

	p.idle = make(chan Conn, p.capacity)
	return p, nil
}

// Acquire returns a connection exclusively owned by the caller until
// released. It prefers an idle connection, grows the pool lazily while
// under capacity, and otherwise waits up to the acquire timeout.
func (p *ConnectionPool) Acquire(ctx context.Context) (Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		p.mu.Unlock()

		select {
		case conn := <-p.idle:
			if conn.IsOpen() {
				return conn, nil
			}
			p.destroy(conn)
			continue
		default:
		}

		p.mu.Lock()
		if p.live < p.capacity {
			p.live++
			p.mu.Unlock()

			conn, err := p.factory(ctx)
			if err != nil {
				p.mu.Lock()
				p.live--
				p.mu.Unlock()
				return nil, err
			}
			return conn, nil
		}
		p.mu.Unlock()

		// At capacity: bounded wait for a release.
		timer := time.NewTimer(p.acquireTimeout)
		select {
		case conn := <-p.idle:
			timer.Stop()
			if conn.IsOpen() {
				return conn, nil
			}
			p.destroy(conn)

		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()

		case <-timer.C:
			return nil, fmt.Errorf("%w: no connection released within %s", ErrPoolExhausted, p.acquireTimeout)
		}
	}
}

// Release returns a connection to the pool. Unhealthy connections, and any
// connection returned after the pool closed or while the idle set is full,
// are destroyed instead.
func (p *ConnectionPool) Release(conn Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || !conn.IsOpen() {
		p.destroy(conn)
		return
	}

	select {
	case p.idle <- conn:
	default:
		p.destroy(conn)
	}
}

// CloseAll marks the pool closed and destroys every idle connection.
// Checked-out connections are destroyed as their callers release them.
func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.idle:
			p.destroy(conn)
		default:
			p.logger.Info("connection pool closed")
			return
		}
	}
}

// Size returns the number of live connections, idle and checked out.
func (p *ConnectionPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Idle returns the number of connections currently idle in the pool.
func (p *ConnectionPool) Idle() int {
	return len(p.idle)
}

func (p *ConnectionPool) destroy(conn Conn) {
	if err := conn.Close(); err != nil {
		p.logger.Warn("failed to close connection", "error", err)
	}
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
}
