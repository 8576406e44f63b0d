// git-fp - git format-patch without Gerrit Change-Id lines
//
// Takes the same arguments as git format-patch. kdt-install adds a bash
// function that routes "git format-patch" here.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/logging"
	"github.com/kdt-dev/kdt/pkg/patch"
	"github.com/kdt-dev/kdt/pkg/runner"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !kdterr.Silent(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(kdterr.Code(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "git-fp [format-patch options]",
		Short:              "git format-patch that removes Change-Id: lines",
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := patch.FormatPatch(context.Background(), runner.New(false, logging.New(false)), "", args)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}
