package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler: функция обработки сообщения.
// Ошибка означает nack (с возвратом в очередь, если AutoAck выключен).
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery: доставленное сообщение.
type Delivery struct {
	// Message: распарсенный конверт.
	Message Message

	// Payload: сырой JSON payload.
	Payload json.RawMessage

	// Raw: сырое AMQP сообщение.
	Raw amqp.Delivery
}

// ConsumerConfig: конфигурация consumer.
type ConsumerConfig struct {
	// Queue: имя очереди.
	Queue Queue

	// Handler: обработчик сообщений.
	Handler Handler

	// Prefetch: количество сообщений для предварительной загрузки.
	Prefetch int

	// AutoAck: подтверждать при доставке (временные очереди tail).
	AutoAck bool
}

// Consumer читает сообщения из очереди RabbitMQ.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{conn: conn, logger: logger, cfg: cfg}
}

// Run читает сообщения до отмены ctx.
//
// Временные очереди (AutoAck) исчезают вместе с соединением, поэтому
// для них разрыв канала завершает Run с ошибкой вместо ожидания reconnect.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.setupConsume()
		if err != nil {
			if c.cfg.AutoAck {
				return err
			}
			c.logger.Error("failed to setup consume", "queue", c.cfg.Queue, "error", err)
			if err := c.waitReconnect(ctx); err != nil {
				return err
			}
			continue
		}

		c.logger.Debug("consumer started", "queue", c.cfg.Queue)

		err = c.processDeliveries(ctx, deliveries)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.cfg.AutoAck {
			return err
		}

		c.logger.Warn("deliveries channel closed, reconnecting", "queue", c.cfg.Queue)
		if err := c.waitReconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Consumer) waitReconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.ReconnectNotify():
		return nil
	}
}

func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(string(c.cfg.Queue), "", c.cfg.AutoAck, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	return deliveries, nil
}

func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	delivery, err := Decode(raw.Body)
	if err != nil {
		c.logger.Error("failed to decode message", "queue", c.cfg.Queue, "error", err)
		if !c.cfg.AutoAck {
			// Некорректное сообщение уходит в DLQ
			_ = raw.Nack(false, false)
		}
		return
	}
	delivery.Raw = raw

	if err := c.cfg.Handler(ctx, delivery); err != nil {
		c.logger.Error("handler failed",
			"queue", c.cfg.Queue,
			"message_id", delivery.Message.ID,
			"type", delivery.Message.Type,
			"error", err,
		)
		if !c.cfg.AutoAck {
			_ = raw.Nack(false, true)
		}
		return
	}

	if !c.cfg.AutoAck {
		_ = raw.Ack(false)
	}
}

// Decode разбирает тело сообщения. Payload остаётся сырым JSON.
func Decode(body []byte) (*Delivery, error) {
	var envelope struct {
		Message
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	msg := envelope.Message
	msg.Payload = envelope.Payload
	return &Delivery{Message: msg, Payload: envelope.Payload}, nil
}

// ParsePayload разбирает payload сообщения в указанный тип.
func ParsePayload[T any](d *Delivery) (T, error) {
	var result T
	if err := json.Unmarshal(d.Payload, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
