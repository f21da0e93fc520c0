package messaging

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundQueue(t *testing.T) {
	t.Run("take on empty returns nil", func(t *testing.T) {
		q := newOutboundQueue()
		assert.Nil(t, q.take(10))
		assert.Equal(t, 0, q.depth())
	})

	t.Run("preserves insertion order", func(t *testing.T) {
		q := newOutboundQueue()
		for i := 0; i < 5; i++ {
			q.push(Event{RoutingKey: fmt.Sprintf("key.%d", i)})
		}

		batch := q.take(5)
		require.Len(t, batch, 5)
		for i, ev := range batch {
			assert.Equal(t, fmt.Sprintf("key.%d", i), ev.RoutingKey)
		}
	})

	t.Run("take caps at available events", func(t *testing.T) {
		q := newOutboundQueue()
		q.push(Event{}, Event{}, Event{})

		assert.Len(t, q.take(10), 3)
		assert.Equal(t, 0, q.depth())
	})

	t.Run("120 events drain as 50/50/20", func(t *testing.T) {
		q := newOutboundQueue()
		for i := 0; i < 120; i++ {
			q.push(Event{RoutingKey: fmt.Sprintf("key.%d", i)})
		}

		var sizes []int
		var order []string
		for {
			batch := q.take(50)
			if len(batch) == 0 {
				break
			}
			sizes = append(sizes, len(batch))
			for _, ev := range batch {
				order = append(order, ev.RoutingKey)
			}
		}

		assert.Equal(t, []int{50, 50, 20}, sizes)
		require.Len(t, order, 120)
		for i, key := range order {
			assert.Equal(t, fmt.Sprintf("key.%d", i), key)
		}
	})

	t.Run("requeue goes to the tail", func(t *testing.T) {
		q := newOutboundQueue()
		q.push(Event{RoutingKey: "a"}, Event{RoutingKey: "b"})

		batch := q.take(1)
		require.Len(t, batch, 1)
		q.push(batch...) // failed batch requeued

		rest := q.take(10)
		require.Len(t, rest, 2)
		assert.Equal(t, "b", rest[0].RoutingKey)
		assert.Equal(t, "a", rest[1].RoutingKey)
	})

	t.Run("concurrent producers lose nothing", func(t *testing.T) {
		q := newOutboundQueue()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					q.push(Event{})
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1000, q.depth())
	})
}
