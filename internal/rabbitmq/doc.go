// Package rabbitmq provides the broker-facing plumbing for the eventbus:
//
//   - Connection: a single authenticated AMQP session that declares the
//     event exchange topology on creation
//   - ConnectionPool: a bounded pool of Connections with lazy growth,
//     bounded-wait acquisition, and health-checked release
//   - topology helpers for durable queues and routing-key bindings
//
// Connections are never shared concurrently: the pool lends each one to
// exactly one caller at a time.
package rabbitmq
