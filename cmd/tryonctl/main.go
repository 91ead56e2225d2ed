// Command tryonctl runs the try-on pipeline and preset tooling from a shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "tryonctl",
	Short:         "Local tooling for the Quel try-on pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	presetsCmd.AddCommand(presetsListCmd, presetsLintCmd, presetsMatchCmd)
	rootCmd.AddCommand(generateCmd, presetsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
