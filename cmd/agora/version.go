// ABOUTME: Version command for the agora CLI.
// ABOUTME: Prints the build version injected with -ldflags.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agora version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agora %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
