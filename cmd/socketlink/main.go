package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "socketlink",
		Short: "Persistent coordinator client",
		Long: `socketlink keeps one connection to a coordinator server open,
identifies itself, answers heartbeats and relays application events
between the coordinator and the local event bus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "configs/socketlink.yaml", "path to config file (.yaml or .toml)")

	rootCmd.AddCommand(
		runCmd(),
		emitCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
