package messaging

import (
	"errors"
	"fmt"
)

// ErrPublisherClosed is returned, via the Publish result, when an event is
// handed to a publisher that has already been stopped.
var ErrPublisherClosed = errors.New("messaging: publisher closed")

// PublishError describes the failed delivery of one event.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("messaging: publish to %s/%s: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ConsumerError describes the failure that ended one consume cycle.
type ConsumerError struct {
	Queue string
	Op    string
	Err   error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("messaging: consumer %q: %s: %v", e.Queue, e.Op, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}
