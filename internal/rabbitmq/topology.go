package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Event exchange names used across the service.
const (
	UserEvents   = "user_events"
	OrderEvents  = "order_events"
	SystemEvents = "system_events"
)

// ExchangeDeclaration defines an exchange to be declared on connect.
type ExchangeDeclaration struct {
	Name    string
	Type    string
	Durable bool
}

// DefaultExchanges returns the durable topic exchanges every connection
// declares.
func DefaultExchanges() []ExchangeDeclaration {
	return []ExchangeDeclaration{
		{Name: UserEvents, Type: "topic", Durable: true},
		{Name: OrderEvents, Type: "topic", Durable: true},
		{Name: SystemEvents, Type: "topic", Durable: true},
	}
}

// DeclareExchanges declares each exchange on the given channel. Declaration
// is idempotent as long as the parameters match the existing exchange.
func DeclareExchanges(ch Channel, exchanges []ExchangeDeclaration) error {
	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			ex.Name,
			ex.Type,
			ex.Durable,
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return &TopologyError{Component: "exchange", Name: ex.Name, Err: err}
		}
	}
	return nil
}

// DeclareQueue declares a durable queue, surviving broker restarts.
func DeclareQueue(ch Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp.Queue{}, &TopologyError{Component: "queue", Name: name, Err: err}
	}
	return q, nil
}

// BindQueue binds the queue to the exchange under each routing key.
func BindQueue(ch Channel, queue, exchange string, routingKeys ...string) error {
	for _, key := range routingKeys {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			return &TopologyError{Component: "binding", Name: queue + "->" + exchange + ":" + key, Err: err}
		}
	}
	return nil
}
