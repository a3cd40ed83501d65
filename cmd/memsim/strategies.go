package main

import (
	"github.com/spf13/cobra"

	mempool "github.com/holmberd/go-mempool"
)

func init() {
	rootCmd.AddCommand(newStrategiesCmd())
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the built-in placement strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range mempool.StrategyNames() {
				printInfo("%s\n", name)
			}
			return nil
		},
	}
}
