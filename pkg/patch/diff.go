package patch

import (
	"context"
	"strings"

	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// Diff viewer settings of the git_diff section.
const (
	KeyDiffTool     = "tool"
	DefaultDiffTool = "meld"
)

// DiffTool returns the viewer command of the git_diff section, meld when
// the section or key is missing.
func DiffTool(sec *config.Section) []string {
	if sec != nil {
		if tool := strings.Fields(sec.Value(KeyDiffTool)); len(tool) > 0 {
			return tool
		}
	}
	return []string{DefaultDiffTool}
}

// ExternalDiff shows the change git describes with its diff.external
// arguments in the viewer. The viewer's exit status is passed on.
func ExternalDiff(ctx context.Context, e runner.Executor, tool, args []string) error {
	oldFile, newFile, err := DiffFiles(args)
	if err != nil || oldFile == "" {
		return err
	}
	argv := append(append([]string(nil), tool...), oldFile, newFile)
	res, err := e.Run(ctx, runner.Cmd{Args: argv, Output: runner.Stream, Trace: runner.Echo})
	if err != nil {
		return err
	}
	if !res.OK {
		return kdterr.Exit(res.Code)
	}
	return nil
}
