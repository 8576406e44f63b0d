// kdt-install - first-run setup of the kernel development tools
//
// Asks for the boards and build folders, optionally enables the git
// helpers and the network scan, and links the tools into ~/.local/bin.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdt-dev/kdt/pkg/install"
	"github.com/kdt-dev/kdt/pkg/logging"
	"github.com/kdt-dev/kdt/pkg/runner"
)

var (
	version = "1.0.0"
	debug   bool
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "kdt-install",
		Short:         "Install the kernel development tools",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose)
			in, err := install.Default(runner.New(debug, log), log)
			if err != nil {
				return err
			}
			return in.Run(context.Background())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "Print all commands being executed")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose diagnostics")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
