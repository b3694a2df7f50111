package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "helianthusctl",
		Short: "helianthusctl - exercise and inspect an in-process Helianthus broker",
		Long:  "A CLI that stands up a broker instance in-process and drives its send/receive, stats, and metrics surface for local testing and demonstration.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a JSON or YAML broker config file (optional)")

	rootCmd.AddCommand(
		sendCmd(),
		receiveCmd(),
		benchCmd(),
		statsCmd(),
		metricsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
