package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <queue>",
		Short: "Print queue depth, throughput, and latency stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName := args[0]

			ctx := context.Background()
			b, err := newBroker(ctx)
			if err != nil {
				return err
			}
			defer b.Shutdown(ctx)

			stats, err := b.QueueStats(queueName)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintf(w, "name\t%s\n", stats.Name)
			fmt.Fprintf(w, "depth\t%d\n", stats.Depth)
			fmt.Fprintf(w, "dead_letter_depth\t%d\n", stats.DeadLetterDepth)
			fmt.Fprintf(w, "pending_acks\t%d\n", stats.PendingAcks)
			fmt.Fprintf(w, "consumers\t%d\n", stats.Consumers)
			fmt.Fprintf(w, "producers\t%d\n", stats.Producers)
			fmt.Fprintf(w, "total_sent\t%d\n", stats.TotalSent)
			fmt.Fprintf(w, "total_received\t%d\n", stats.TotalReceived)
			fmt.Fprintf(w, "total_acked\t%d\n", stats.TotalAcked)
			fmt.Fprintf(w, "total_rejected\t%d\n", stats.TotalRejected)
			fmt.Fprintf(w, "total_expired\t%d\n", stats.TotalExpired)
			fmt.Fprintf(w, "total_dead_lettered\t%d\n", stats.TotalDeadLettered)
			fmt.Fprintf(w, "enqueue_rate\t%.2f/s\n", stats.EnqueueRate)
			fmt.Fprintf(w, "dequeue_rate\t%.2f/s\n", stats.DequeueRate)
			fmt.Fprintf(w, "latency_p50\t%s\n", stats.LatencyP50)
			fmt.Fprintf(w, "latency_p95\t%s\n", stats.LatencyP95)
			fmt.Fprintf(w, "latency_mean\t%s\n", stats.LatencyMean)
			return nil
		},
	}
	return cmd
}
