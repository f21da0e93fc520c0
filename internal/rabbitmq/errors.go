package rabbitmq

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Pool errors
	ErrPoolExhausted = errors.New("rabbitmq: connection pool exhausted")
	ErrPoolClosed    = errors.New("rabbitmq: connection pool is closed")

	// Connection errors
	ErrConnectionClosed = errors.New("rabbitmq: connection is closed")
	ErrDialFailed       = errors.New("rabbitmq: failed to dial broker")
)

// ConnectionError reports a failed connection-level operation.
type ConnectionError struct {
	Op        string    // operation that failed
	URL       string    // broker URL, sanitized
	Err       error     // underlying error
	Attempts  int       // dial attempts made
	Timestamp time.Time // when the error occurred
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq connection error: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TopologyError reports a failed exchange, queue, or binding declaration.
type TopologyError struct {
	Component string // "exchange", "queue", "binding"
	Name      string
	Err       error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: declare %s %q: %v", e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// SanitizeURL strips credentials from an AMQP URL for logging.
func SanitizeURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "***" + url[len(url)-10:]
	}
	return "***"
}
