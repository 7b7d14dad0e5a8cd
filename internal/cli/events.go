package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowboard/internal/mq"
	"github.com/shaiso/flowboard/internal/telemetry"
)

// NewEventsCmd создаёт группу команд для событий RabbitMQ.
func NewEventsCmd(amqpURLFn func() string, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow flowboard events",
	}

	cmd.AddCommand(newEventsTailCmd(amqpURLFn, outputFn))

	return cmd
}

func newEventsTailCmd(amqpURLFn func() string, outputFn func() *Output) *cobra.Command {
	var patterns []string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events as they are published",
		Long:  "Print events as they are published. Patterns use topic syntax: failure.*, flow.saved, #.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			url := amqpURLFn()
			if url == "" {
				return errors.New("AMQP URL is not configured (set amqp_url or AMQP_URL)")
			}

			// Логи переподключения не нужны в выводе команды.
			logger := telemetry.NewLogger(io.Discard, "error", "text")

			conn, err := mq.Dial(url, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			keys := make([]mq.RoutingKey, len(patterns))
			for i, p := range patterns {
				keys[i] = mq.RoutingKey(p)
			}

			queue, err := mq.DeclareTailQueue(ctx, conn, keys...)
			if err != nil {
				return err
			}

			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Queue:    queue,
				Handler:  EventPrinter(out),
				Prefetch: 50,
				AutoAck:  true,
			})

			out.Success(fmt.Sprintf("Listening on %s (Ctrl+C to stop)", queue))
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&patterns, "pattern", []string{string(mq.RoutingKeyAll)}, "Routing key pattern, repeatable")

	return cmd
}

// EventPrinter возвращает обработчик, печатающий события: строкой или JSON.
func EventPrinter(out *Output) mq.Handler {
	return func(_ context.Context, d *mq.Delivery) error {
		if out.JSONMode() {
			out.JSON(map[string]any{
				"id":        d.Message.ID,
				"type":      d.Message.Type,
				"timestamp": d.Message.Timestamp,
				"payload":   d.Payload,
			})
			return nil
		}

		out.Text(fmt.Sprintf("%s  %-20s %s",
			d.Message.Timestamp.Local().Format("15:04:05"),
			d.Message.Type,
			string(d.Payload),
		))
		return nil
	}
}
