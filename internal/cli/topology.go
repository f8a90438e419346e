package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kinobilet/kinobilet/internal/mq"
)

// NewTopologyCmd создаёт группу команд управления топологией RabbitMQ.
//
// Сервисы объявляют топологию пассивно и падают, если её нет;
// создаётся она только отсюда (или из инфраструктурных скриптов).
func NewTopologyCmd(outputFn func() *Output) *cobra.Command {
	var amqpURL string

	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Provision and verify broker topology",
	}

	cmd.PersistentFlags().StringVar(&amqpURL, "amqp-url", mq.DefaultURL(), "RabbitMQ URL")

	cmd.AddCommand(
		newTopologyProvisionCmd(&amqpURL, outputFn),
		newTopologyCheckCmd(&amqpURL, outputFn),
	)

	return cmd
}

func newTopologyProvisionCmd(amqpURL *string, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create exchanges, queues and bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			conn, ctx, cancel, err := dialBroker(*amqpURL)
			if err != nil {
				return err
			}
			defer cancel()
			defer conn.Close()

			if err := mq.Provision(ctx, conn); err != nil {
				return err
			}

			out.Success("Topology provisioned")
			return nil
		},
	}
}

func newTopologyCheckCmd(amqpURL *string, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that the expected topology exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			conn, ctx, cancel, err := dialBroker(*amqpURL)
			if err != nil {
				return err
			}
			defer cancel()
			defer conn.Close()

			if err := mq.Verify(ctx, conn); err != nil {
				return err
			}

			out.Success("Topology OK")
			return nil
		},
	}
}

// dialBroker подключается к брокеру с тихим логгером:
// диагностика CLI идёт через вывод команд, не через slog.
func dialBroker(url string) (*mq.Connection, context.Context, context.CancelFunc, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	conn, err := mq.Connect(url, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	return conn, ctx, cancel, nil
}
