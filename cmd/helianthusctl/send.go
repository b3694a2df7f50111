package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helianthus/broker"
	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/resultcode"
)

func sendCmd() *cobra.Command {
	var (
		priority string
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "send <queue> <payload>",
		Short: "Send one message to a queue, creating it if necessary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName, payload := args[0], args[1]

			ctx := context.Background()
			b, err := newBroker(ctx)
			if err != nil {
				return err
			}
			defer b.Shutdown(ctx)

			if err := b.CreateQueue(queueName, broker.QueueOptions{}); err != nil && !resultcode.Is(err, resultcode.InvalidParameter) {
				return err
			}

			msg := message.New([]byte(payload), message.TypeText, parsePriority(priority), parseDeliveryMode(mode))
			if err := b.Send(ctx, queueName, msg); err != nil {
				return err
			}

			fmt.Printf("sent message %d to %s\n", msg.Header.ID, queueName)
			return nil
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "normal", "low|normal|high|critical|realtime")
	cmd.Flags().StringVar(&mode, "mode", "at-least-once", "fire-and-forget|at-least-once|at-most-once|exactly-once")
	return cmd
}

func parsePriority(s string) message.Priority {
	switch s {
	case "low":
		return message.PriorityLow
	case "high":
		return message.PriorityHigh
	case "critical":
		return message.PriorityCritical
	case "realtime":
		return message.PriorityRealtime
	default:
		return message.PriorityNormal
	}
}

func parseDeliveryMode(s string) message.DeliveryMode {
	switch s {
	case "fire-and-forget":
		return message.FireAndForget
	case "at-most-once":
		return message.AtMostOnce
	case "exactly-once":
		return message.ExactlyOnce
	default:
		return message.AtLeastOnce
	}
}
