package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStamp(t *testing.T) {
	frozen := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	now := func() time.Time { return frozen }

	t.Run("injects timestamp and trace id", func(t *testing.T) {
		ev := Event{Exchange: "user_events", RoutingKey: "user.created", Payload: map[string]any{
			"event_type": "user.created",
		}}
		ev.stamp(now)

		assert.Equal(t, "2025-03-14T09:26:53Z", ev.Payload["timestamp"])

		traceID, ok := ev.Payload["trace_id"].(string)
		require.True(t, ok)
		assert.Regexp(t, "^[0-9a-f]{8}$", traceID)
	})

	t.Run("never overwrites existing fields", func(t *testing.T) {
		ev := Event{Payload: map[string]any{
			"timestamp": "2020-01-01T00:00:00Z",
			"trace_id":  "cafebabe",
		}}

		ev.stamp(now)
		ev.stamp(now) // requeue path stamps again

		assert.Equal(t, "2020-01-01T00:00:00Z", ev.Payload["timestamp"])
		assert.Equal(t, "cafebabe", ev.Payload["trace_id"])
	})

	t.Run("stamping is stable across repeats", func(t *testing.T) {
		ev := Event{Payload: map[string]any{}}
		ev.stamp(now)
		first := ev.Payload["trace_id"]

		ev.stamp(now)
		assert.Equal(t, first, ev.Payload["trace_id"])
	})

	t.Run("nil payload is allocated", func(t *testing.T) {
		ev := Event{}
		ev.stamp(now)

		assert.NotNil(t, ev.Payload)
		assert.Contains(t, ev.Payload, "timestamp")
		assert.Contains(t, ev.Payload, "trace_id")
	})
}

func TestNewTraceID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTraceID()
		assert.Regexp(t, "^[0-9a-f]{8}$", id)
		seen[id] = true
	}
	// 100 draws from a 32-bit space should not all collide.
	assert.Greater(t, len(seen), 90)
}
