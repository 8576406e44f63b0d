package kernel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/patch"
	"github.com/kdt-dev/kdt/pkg/runner"
)

const checkpatchScript = "./scripts/checkpatch.pl"

// Check builds with W=1 and runs checkpatch. arg is either the number of
// commits on top of HEAD's base or a folder of patch files. Flagged
// patches make Check return an exit status of 1.
func (b *Builder) Check(ctx context.Context, arg string) error {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 {
			return kdterr.Errorf(kdterr.KindUsage, "number of patches must be positive: %d", n)
		}
		return b.CheckCommits(ctx, n)
	}
	info, err := os.Stat(arg)
	if err != nil || !info.IsDir() {
		return kdterr.Errorf(kdterr.KindUsage, "can't check %s", arg)
	}
	return b.CheckPatches(ctx, arg)
}

// git runs a git command in the source tree. Commands that change the tree
// are traced with Plan so debug mode only prints them.
func (b *Builder) git(ctx context.Context, trace runner.Trace, args ...string) (runner.Result, error) {
	return runner.Must(ctx, b.exec, runner.Cmd{Args: append([]string{"git"}, args...), Dir: b.source, Trace: trace})
}

// currentBranch returns "" on a detached HEAD.
func (b *Builder) currentBranch(ctx context.Context) (string, error) {
	res, err := b.exec.Run(ctx, runner.Cmd{Args: []string{"git", "symbolic-ref", "--short", "-q", "HEAD"}, Dir: b.source, Trace: runner.Silent})
	if err != nil {
		return "", err
	}
	if !res.OK {
		return "", nil
	}
	return strings.TrimSpace(res.Stdout), nil
}

// checkpatch runs the kernel's checkpatch script on a patch file.
func (b *Builder) checkpatch(ctx context.Context, file string) (runner.Result, error) {
	return b.exec.Run(ctx, runner.Cmd{Args: []string{checkpatchScript, file}, Dir: b.source, Trace: runner.Silent})
}

// checkpatchExcerpt cuts the checkpatch report after its "total:" line.
func checkpatchExcerpt(out string) string {
	i := strings.Index(out, "total:")
	if i < 0 {
		return out
	}
	if j := strings.Index(out[i:], "\n"); j >= 0 {
		return out[:i+j]
	}
	return out
}

// report prints the verdict of one patch and returns whether it is bad.
func (b *Builder) report(subject string, build, check runner.Result) bool {
	warned := strings.Contains(build.Stderr, "warning:")
	if check.OK && !warned {
		b.print.Good(subject)
		return false
	}
	b.print.Bad(subject)
	if warned {
		b.print.Section("## Build Output ##\n")
		fmt.Fprintln(b.out, build.Stderr)
	}
	if !check.OK {
		b.print.Section("## Checkpatch Output ##\n")
		fmt.Fprint(b.out, checkpatchExcerpt(check.Combined()))
	}
	fmt.Fprint(b.out, "\n\n")
	return true
}

// CheckCommits checks the last n commits one by one, oldest first. The
// commit below them is built first as the base. The branch checked out on
// entry is restored on every path.
func (b *Builder) CheckCommits(ctx context.Context, n int) (err error) {
	branch, err := b.currentBranch(ctx)
	if err != nil {
		return err
	}
	if branch == "" {
		b.log.Warn("HEAD is detached, it will not be restored")
	}

	res, err := b.git(ctx, runner.Silent, "log", "--oneline", fmt.Sprintf("-%d", n+1))
	if err != nil {
		return err
	}
	commits := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(commits) < 2 {
		return kdterr.Errorf(kdterr.KindUsage, "not enough commits to check")
	}
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}

	if branch != "" {
		defer func() {
			if _, rerr := b.git(ctx, runner.Plan, "checkout", branch); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}

	tmp, err := os.MkdirTemp("", "kdt-check-")
	if err != nil {
		return fmt.Errorf("failed to create patch folder: %w", err)
	}
	defer os.RemoveAll(tmp)

	checkout := func(commit string) error {
		_, err := b.git(ctx, runner.Plan, "checkout", strings.Fields(commit)[0])
		return err
	}

	// Warnings of the base are not ours.
	if err := checkout(commits[0]); err != nil {
		return err
	}
	if err := b.Configure(ctx, true); err != nil {
		return err
	}
	base, err := b.makeBuild(ctx, 1)
	if err != nil {
		return err
	}
	if !base.OK {
		fmt.Fprintln(b.out, base.Stderr)
		return kdterr.Errorf(kdterr.KindCommand, "can't build patch %s", commits[0])
	}

	bad := false
	for _, commit := range commits[1:] {
		if err := checkout(commit); err != nil {
			return err
		}
		if err := b.Configure(ctx, true); err != nil {
			return err
		}
		build, err := b.makeBuild(ctx, 1)
		if err != nil {
			return err
		}
		if !build.OK {
			fmt.Fprintln(b.out, build.Stderr)
			b.print.Fail("Error! Can't build patch %s", commit)
			bad = true
			break
		}

		out, err := b.git(ctx, runner.Plan, "format-patch", "-1", "-o", tmp)
		if err != nil {
			return err
		}
		if b.debug {
			continue
		}
		file := strings.TrimSpace(out.Stdout)
		if _, err := patch.StripFile(file); err != nil {
			return err
		}
		check, err := b.checkpatch(ctx, file)
		if err != nil {
			return err
		}
		if b.report(commit, build, check) {
			bad = true
		}
	}

	if bad {
		return kdterr.Exit(1)
	}
	return nil
}

// CheckPatches builds the current tree once with W=1 and runs checkpatch on
// every *.patch file of dir. The files are left untouched.
func (b *Builder) CheckPatches(ctx context.Context, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.patch"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return kdterr.Errorf(kdterr.KindUsage, "no patch files in %s", dir)
	}
	sort.Strings(files)

	tmp, err := os.MkdirTemp("", "kdt-check-")
	if err != nil {
		return fmt.Errorf("failed to create patch folder: %w", err)
	}
	defer os.RemoveAll(tmp)

	build, err := b.makeBuild(ctx, 1)
	if err != nil {
		return err
	}
	if !build.OK {
		fmt.Fprintln(b.out, build.Stderr)
		return kdterr.Errorf(kdterr.KindCommand, "can't build %s", b.source)
	}

	bad := false
	if strings.Contains(build.Stderr, "warning:") {
		b.report("build", build, runner.Result{OK: true})
		bad = true
	}
	for _, f := range files {
		stripped, err := patch.StripCopy(f, tmp)
		if err != nil {
			return err
		}
		check, err := b.checkpatch(ctx, stripped)
		if err != nil {
			return err
		}
		if b.report(filepath.Base(f), runner.Result{OK: true}, check) {
			bad = true
		}
	}

	if bad {
		return kdterr.Exit(1)
	}
	return nil
}
