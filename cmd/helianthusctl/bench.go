package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/helianthus/broker"
	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/resultcode"
)

func benchCmd() *cobra.Command {
	var (
		count      int
		payloadLen int
	)

	cmd := &cobra.Command{
		Use:   "bench <queue>",
		Short: "Send and drain N messages against a scratch queue, reporting throughput",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName := args[0]

			ctx := context.Background()
			b, err := newBroker(ctx)
			if err != nil {
				return err
			}
			defer b.Shutdown(ctx)

			if err := b.CreateQueue(queueName, broker.QueueOptions{}); err != nil && !resultcode.Is(err, resultcode.InvalidParameter) {
				return err
			}

			payload := make([]byte, payloadLen)

			sendStart := time.Now()
			for i := 0; i < count; i++ {
				msg := message.New(payload, message.TypeText, message.PriorityNormal, message.AtLeastOnce)
				if err := b.Send(ctx, queueName, msg); err != nil {
					return fmt.Errorf("send %d: %w", i, err)
				}
			}
			sendElapsed := time.Since(sendStart)

			recvStart := time.Now()
			for i := 0; i < count; i++ {
				msg, err := b.Receive(ctx, queueName, "bench", time.Second)
				if err != nil {
					return fmt.Errorf("receive %d: %w", i, err)
				}
				if err := b.Ack(queueName, msg.Header.ID); err != nil {
					return fmt.Errorf("ack %d: %w", i, err)
				}
			}
			recvElapsed := time.Since(recvStart)

			fmt.Printf("sent %d messages in %s (%.0f msg/s)\n", count, sendElapsed, float64(count)/sendElapsed.Seconds())
			fmt.Printf("received %d messages in %s (%.0f msg/s)\n", count, recvElapsed, float64(count)/recvElapsed.Seconds())
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 1000, "Number of messages to send and receive")
	cmd.Flags().IntVar(&payloadLen, "payload-size", 128, "Payload size in bytes")
	return cmd
}
