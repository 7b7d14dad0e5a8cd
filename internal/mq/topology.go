package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange: тип для имени обменника.
type Exchange string

// Queue: тип для имени очереди.
type Queue string

// RoutingKey: тип для ключа маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeEvents Exchange = "flowboard.events"
	ExchangeDLQ    Exchange = "flowboard.dlq"
)

// Queues.
const (
	QueueFailures    Queue = "flowboard.failures"
	QueueDLQFailures Queue = "dlq.failures"
)

// Routing keys. Совпадают с типами событий.
const (
	RoutingKeyFailureCreated    RoutingKey = "failure.created"
	RoutingKeyFailureUpdated    RoutingKey = "failure.updated"
	RoutingKeyFlowSaved         RoutingKey = "flow.saved"
	RoutingKeyFlowDeleted       RoutingKey = "flow.deleted"
	RoutingKeyPromptSaved       RoutingKey = "prompt.saved"
	RoutingKeyPromptDeleted     RoutingKey = "prompt.deleted"
	RoutingKeyWorkflowActivated RoutingKey = "workflow.activated"

	// RoutingKeyAllFailures: шаблон всех событий failures.
	RoutingKeyAllFailures RoutingKey = "failure.*"

	// RoutingKeyAll: шаблон всех событий.
	RoutingKeyAll RoutingKey = "#"

	RoutingKeyDLQFailures RoutingKey = "failures"
)

// SetupTopology объявляет exchanges и очередь failures.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		exchanges := []struct {
			name Exchange
			kind string
		}{
			{ExchangeEvents, amqp.ExchangeTopic},
			{ExchangeDLQ, amqp.ExchangeDirect},
		}
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		// flowboard.failures: отклонённые исполнителем события уходят в DLQ
		failureArgs := amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQFailures),
		}
		queues := []struct {
			name Queue
			args amqp.Table
		}{
			{QueueFailures, failureArgs},
			{QueueDLQFailures, nil},
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		bindings := []struct {
			queue      Queue
			routingKey RoutingKey
			exchange   Exchange
		}{
			{QueueFailures, RoutingKeyAllFailures, ExchangeEvents},
			{QueueDLQFailures, RoutingKeyDLQFailures, ExchangeDLQ},
		}
		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// DeclareTailQueue создаёт временную эксклюзивную очередь, привязанную
// к flowboard.events по шаблонам. Очередь удаляется при закрытии соединения.
func DeclareTailQueue(ctx context.Context, conn *Connection, patterns ...RoutingKey) (Queue, error) {
	if len(patterns) == 0 {
		patterns = []RoutingKey{RoutingKeyAll}
	}

	var name Queue
	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(string(ExchangeEvents), amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
		}

		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return fmt.Errorf("declare tail queue: %w", err)
		}

		for _, p := range patterns {
			if err := ch.QueueBind(q.Name, string(p), string(ExchangeEvents), false, nil); err != nil {
				return fmt.Errorf("bind tail queue to %s: %w", p, err)
			}
		}

		name = Queue(q.Name)
		return nil
	})
	return name, err
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  flowboard RabbitMQ topology:

    flowboard.events (topic)
    ├── flowboard.failures [routing: failure.*]
    │       Consumer: pipeline executor
    │       DLQ: dlq.failures
    └── amq.gen-* [routing: CLI pattern, exclusive]
            Consumer: flowboard events tail

    flowboard.dlq (direct)
    └── dlq.failures [routing: failures]
`
}
