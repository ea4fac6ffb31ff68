package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/socketlink/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "socketlink %s\n", version.String())
		},
	}
}
