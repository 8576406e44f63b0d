// Package patch removes Gerrit Change-Id trailers from patches produced by
// git format-patch.
package patch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// ChangeIDPrefix starts the lines added by Gerrit's commit-msg hook.
const ChangeIDPrefix = "Change-Id:"

// StripChangeID copies r to w without the lines that begin with
// ChangeIDPrefix. It returns the number of removed lines.
func StripChangeID(r io.Reader, w io.Writer) (int, error) {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	removed := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if strings.HasPrefix(line, ChangeIDPrefix) {
				removed++
			} else if _, werr := bw.WriteString(line); werr != nil {
				return removed, werr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return removed, err
		}
	}
	return removed, bw.Flush()
}

// StripFile rewrites a patch file in place. A missing file is ignored.
func StripFile(path string) (int, error) {
	in, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open patch: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat patch: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".patch-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	removed, err := StripChangeID(in, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to save %s: %w", path, err)
	}
	return removed, nil
}

// StripCopy writes a stripped copy of src into dir, keeping the base name.
func StripCopy(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open patch: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(dir, filepath.Base(src))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := StripChangeID(in, out); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return dst, out.Close()
}

// FormatPatch runs git format-patch with args in dir and strips every file
// it produced. It returns git's output, one patch path per line.
func FormatPatch(ctx context.Context, e runner.Executor, dir string, args []string) (string, error) {
	argv := append([]string{"git", "format-patch"}, args...)
	res, err := runner.Must(ctx, e, runner.Cmd{Args: argv, Dir: dir, Trace: runner.Silent})
	if err != nil {
		return "", err
	}
	for _, name := range strings.Split(res.Stdout, "\n") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if dir != "" && !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		if _, err := StripFile(name); err != nil {
			return res.Stdout, err
		}
	}
	return res.Stdout, nil
}

// DiffFiles picks the old and new file out of the arguments git passes to a
// diff.external program: path old-file old-hex old-mode new-file new-hex
// new-mode, followed by new-path and metainfo for renames. An unmerged path
// comes with the path only and gives empty names.
func DiffFiles(args []string) (oldFile, newFile string, err error) {
	switch len(args) {
	case 1:
		return "", "", nil
	case 7, 9:
		return args[1], args[4], nil
	}
	return "", "", kdterr.Errorf(kdterr.KindUsage, "expected the 7 or 9 arguments of git diff.external, got %d", len(args))
}
