// kdt-diff - git diff.external hook that opens a graphical viewer
//
// Install with:
//   git config --global diff.external kdt-diff
//
// The viewer is the "tool" key of the git_diff section in ~/.kdt, meld by
// default.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdt-dev/kdt/pkg/config"
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
		Use:                "kdt-diff path old-file old-hex old-mode new-file new-hex new-mode",
		Short:              "Show a git diff in an external viewer",
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(false)
			store, err := config.OpenDefault()
			if err != nil {
				return err
			}
			sec, _, err := store.ReadSection(config.SectionGitDiff)
			if err != nil {
				return err
			}
			return patch.ExternalDiff(context.Background(), runner.New(false, log), patch.DiffTool(sec), args)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}
