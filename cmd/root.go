// Package cmd wires the adventured command line.
package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "adventured",
		Short:         "adventured: turn-based adventure session server",
		Long:          "adventured serves text-adventure sessions over websockets: authenticated reconnectable connections, strictly ordered turn processing, and graceful drain on shutdown.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
