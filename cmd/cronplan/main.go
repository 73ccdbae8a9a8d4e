package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cronplan",
		Short:         "Preview and check schedules",
		Long:          "Computes upcoming run times for cron expressions and structured recurring rules.",
		SilenceUsage: true,
	}
	root.AddCommand(
		nextCmd(),
		validateCmd(),
		fileCmd(),
	)
	return root
}
