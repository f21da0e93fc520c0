// Package messaging implements the asynchronous event layer of the eventbus.
//
// EventPublisher accepts fire-and-forget publish requests, queues them in
// memory, and drains them in FIFO batches on a single background goroutine
// using pooled broker connections. Acceptance into the queue is the only
// guarantee: delivery is best effort and no confirmation is awaited.
//
// EventConsumer runs one supervised goroutine per subscription. Each
// subscription owns its channel, so a slow handler never blocks an
// unrelated one. A handler error negatively acknowledges the delivery with
// requeue, so the message is retried later.
package messaging
