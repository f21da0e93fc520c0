package messaging

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Payload field names stamped by the publisher.
const (
	timestampField = "timestamp"
	traceIDField   = "trace_id"
)

// Event is one message bound for a broker exchange.
type Event struct {
	Exchange   string
	RoutingKey string
	Payload    map[string]any
}

// NewTraceID returns an 8-hex-char correlation id.
func NewTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:8]
}

// stamp injects timestamp and trace_id into the payload if absent. The
// injection is idempotent: requeued events keep their original values.
func (e *Event) stamp(now func() time.Time) {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	if _, ok := e.Payload[timestampField]; !ok {
		e.Payload[timestampField] = now().Format(time.RFC3339)
	}
	if _, ok := e.Payload[traceIDField]; !ok {
		e.Payload[traceIDField] = NewTraceID()
	}
}

// traceID returns the payload trace id, or "" if absent or not a string.
func (e *Event) traceID() string {
	id, _ := e.Payload[traceIDField].(string)
	return id
}
