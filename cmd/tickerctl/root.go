package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "tickerctl.toml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tickerctl",
		Short:         "Stream market and account deltas from the exchange hub",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStreamCmd(nil))
	root.AddCommand(newConfigCmd())
	return root
}
