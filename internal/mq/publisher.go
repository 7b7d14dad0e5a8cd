package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/flowboard/internal/domain"
)

// Message: конверт события.
type Message struct {
	// ID: уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type: тип события, совпадает с routing key.
	Type RoutingKey `json:"type"`

	// Payload: полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp: время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(key RoutingKey, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      key,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// FailurePayload: payload событий failure.*.
type FailurePayload struct {
	FailureID  string               `json:"failure_id"`
	Status     domain.FailureStatus `json:"status"`
	WorkflowID string               `json:"workflow_id,omitempty"`
	TestFile   string               `json:"test_file,omitempty"`
	TestName   string               `json:"test_name,omitempty"`
	RetryCount int                  `json:"retry_count"`
}

// NewFailurePayload собирает payload из failure.
func NewFailurePayload(f *domain.Failure) FailurePayload {
	return FailurePayload{
		FailureID:  f.ID,
		Status:     f.Status,
		WorkflowID: f.WorkflowID,
		TestFile:   f.TestFile,
		TestName:   f.TestName,
		RetryCount: f.RetryCount,
	}
}

// FlowPayload: payload событий flow.* и workflow.activated.
type FlowPayload struct {
	Name      string `json:"name"`
	Folder    string `json:"folder,omitempty"`
	NodeCount int    `json:"node_count,omitempty"`
	EdgeCount int    `json:"edge_count,omitempty"`
}

// PromptPayload: payload событий prompt.*.
type PromptPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Folder string `json:"folder,omitempty"`
}

// Publisher публикует события в flowboard.events.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published event",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
		)
		return nil
	})
}

// PublishEvent публикует событие в flowboard.events.
func (p *Publisher) PublishEvent(ctx context.Context, key RoutingKey, payload any) error {
	return p.Publish(ctx, ExchangeEvents, key, NewMessage(key, payload))
}
