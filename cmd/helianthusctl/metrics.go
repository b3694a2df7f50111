package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func metricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print Prometheus text-exposition metrics and fast-path performance counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, err := newBroker(ctx)
			if err != nil {
				return err
			}
			defer b.Shutdown(ctx)

			text, err := b.MetricsText()
			if err != nil {
				return err
			}
			fmt.Print(text)

			perf := b.Performance()
			fmt.Printf("\n# pool: blocks=%d hits=%d misses=%d direct=%d\n",
				perf.Pool.TotalBlocks, perf.Pool.Hits, perf.Pool.Misses, perf.Pool.DirectAllocs)
			fmt.Printf("# txn: committed=%d rolled_back=%d timed_out=%d\n",
				perf.Txn.TotalCommits, perf.Txn.TotalRollbacks, perf.Txn.TotalTimeouts)
			return nil
		},
	}
	return cmd
}
