package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func receiveCmd() *cobra.Command {
	var (
		consumerID string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "receive <queue>",
		Short: "Receive one message from a queue and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName := args[0]

			ctx := context.Background()
			b, err := newBroker(ctx)
			if err != nil {
				return err
			}
			defer b.Shutdown(ctx)

			msg, err := b.Receive(ctx, queueName, consumerID, timeout)
			if err != nil {
				return err
			}

			fmt.Printf("message %d priority=%d mode=%d payload=%q\n",
				msg.Header.ID, msg.Header.Priority, msg.Header.DeliveryMode, string(msg.Payload.Bytes()))
			return b.Ack(queueName, msg.Header.ID)
		},
	}

	cmd.Flags().StringVar(&consumerID, "consumer", "helianthusctl", "Consumer ID to receive as")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for a message")
	return cmd
}
