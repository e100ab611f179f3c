package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "auracap",
		Short:         "Capture and inspect Aura RPC calls from a Chromium browser",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	callsCmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect the captured call log",
	}
	callsCmd.AddCommand(newCallsListCommand(), newCallsClearCommand())

	hookCmd := &cobra.Command{
		Use:   "hook",
		Short: "Page script utilities",
	}
	hookCmd.AddCommand(newHookPrintCommand())

	rootCmd.AddCommand(newServeCommand(), callsCmd, hookCmd)
	return rootCmd
}
