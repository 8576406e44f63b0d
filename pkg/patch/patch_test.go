package patch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/runner"
	"github.com/kdt-dev/kdt/pkg/runner/runnertest"
)

const gerritPatch = `From 1c0ffee Mon Sep 17 00:00:00 2001
Subject: [PATCH] spi: fix clock

Fix the clock divider.

Change-Id: I0123456789abcdef0123456789abcdef01234567
Signed-off-by: Dev <dev@example.com>
Change-Id: Iffffffffffffffffffffffffffffffffffffffff
---
 drivers/spi/spi.c | 2 +-
-Change-Id: stays, not at line start
`

func TestStripChangeID(t *testing.T) {
	var out bytes.Buffer
	removed, err := StripChangeID(strings.NewReader(gerritPatch), &out)
	require.NoError(t, err)

	assert.Equal(t, 2, removed)
	assert.NotContains(t, out.String(), "\nChange-Id:")
	assert.Contains(t, out.String(), "-Change-Id: stays")

	var kept []string
	for _, line := range strings.Split(gerritPatch, "\n") {
		if !strings.HasPrefix(line, ChangeIDPrefix) {
			kept = append(kept, line)
		}
	}
	assert.Equal(t, strings.Join(kept, "\n"), out.String())
}

func TestStripChangeIDNoTrailingNewline(t *testing.T) {
	var out bytes.Buffer
	removed, err := StripChangeID(strings.NewReader("a\nChange-Id: I1\nb"), &out)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, "a\nb", out.String())
}

func TestStripFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0001-spi-fix-clock.patch")
	require.NoError(t, os.WriteFile(path, []byte(gerritPatch), 0600))

	removed, err := StripFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\nChange-Id:")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	removed, err = StripFile(filepath.Join(dir, "missing.patch"))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStripCopy(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.patch")
	require.NoError(t, os.WriteFile(src, []byte(gerritPatch), 0644))
	dst, err := StripCopy(src, t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Change-Id: I0")
	orig, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, gerritPatch, string(orig))
}

func TestFormatPatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001-a.patch"), []byte(gerritPatch), 0644))
	fake := runnertest.New().Handle("git format-patch", func(c runner.Cmd) (runner.Result, error) {
		return runner.Result{OK: true, Stdout: "0001-a.patch\n0002-gone.patch"}, nil
	})

	out, err := FormatPatch(context.Background(), fake, dir, []string{"-1"})
	require.NoError(t, err)
	assert.Equal(t, "0001-a.patch\n0002-gone.patch", out)
	assert.Equal(t, []string{"git format-patch -1"}, fake.Lines())

	data, err := os.ReadFile(filepath.Join(dir, "0001-a.patch"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Change-Id: I0")

	fake = runnertest.New().Fail("git format-patch", "fatal: bad revision")
	_, err = FormatPatch(context.Background(), fake, dir, []string{"nope"})
	require.Error(t, err)
	assert.True(t, kdterr.Is(err, kdterr.KindCommand))
}

func TestDiffFiles(t *testing.T) {
	oldFile, newFile, err := DiffFiles([]string{"f.c", "/tmp/old", "abc", "100644", "f.c", "def", "100644"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/old", oldFile)
	assert.Equal(t, "f.c", newFile)

	// Renames carry the new path and the similarity header.
	oldFile, newFile, err = DiffFiles([]string{"a.c", "/tmp/old", "abc", "100644", "/tmp/new", "def", "100644", "b.c", "similarity index 90%\nrename from a.c\nrename to b.c\n"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/old", oldFile)
	assert.Equal(t, "/tmp/new", newFile)

	oldFile, newFile, err = DiffFiles([]string{"f.c"})
	require.NoError(t, err)
	assert.Empty(t, oldFile)
	assert.Empty(t, newFile)

	_, _, err = DiffFiles([]string{"f.c", "/tmp/old"})
	assert.True(t, kdterr.Is(err, kdterr.KindUsage))
}

func TestDiffTool(t *testing.T) {
	assert.Equal(t, []string{"meld"}, DiffTool(nil))

	sec := config.NewSection(config.SectionGitDiff)
	assert.Equal(t, []string{"meld"}, DiffTool(sec))
	sec.Set("tool", "kdiff3 --auto")
	assert.Equal(t, []string{"kdiff3", "--auto"}, DiffTool(sec))
}

func TestExternalDiff(t *testing.T) {
	args := []string{"f.c", "/tmp/old", "abc", "100644", "f.c", "def", "100644"}

	fake := runnertest.New()
	require.NoError(t, ExternalDiff(context.Background(), fake, []string{"meld"}, args))
	assert.Equal(t, []string{"meld /tmp/old f.c"}, fake.Lines())
	assert.Equal(t, runner.Stream, fake.Calls()[0].Output)

	fake = runnertest.New().Handle("meld", func(runner.Cmd) (runner.Result, error) {
		return runner.Result{Code: 3}, nil
	})
	err := ExternalDiff(context.Background(), fake, []string{"meld"}, args)
	assert.Equal(t, 3, kdterr.Code(err))

	err = ExternalDiff(context.Background(), fake, []string{"meld"}, args[:2])
	assert.True(t, kdterr.Is(err, kdterr.KindUsage))

	// Unmerged paths have nothing to show.
	fake = runnertest.New()
	require.NoError(t, ExternalDiff(context.Background(), fake, []string{"meld"}, args[:1]))
	assert.Empty(t, fake.Calls())
}
