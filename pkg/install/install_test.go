package install

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
	"github.com/kdt-dev/kdt/pkg/logging"
	"github.com/kdt-dev/kdt/pkg/runner/runnertest"
)

type testInstall struct {
	*Installer
	fake *runnertest.Fake
	out  *bytes.Buffer
}

func newTestInstaller(t *testing.T, answers ...string) testInstall {
	home := t.TempDir()
	bin := t.TempDir()
	for _, name := range []string{"kb", "gip", "git-fp", "kdt-diff"} {
		require.NoError(t, os.WriteFile(filepath.Join(bin, name), nil, 0755))
	}
	var out bytes.Buffer
	fake := runnertest.New()
	input := strings.Join(answers, "\n") + "\n"
	return testInstall{
		Installer: &Installer{
			Store:  config.Open(filepath.Join(home, ".kdt")),
			Exec:   fake,
			Prompt: NewPrompter(strings.NewReader(input), &out),
			Log:    logging.Nop(),
			Out:    &out,
			Home:   home,
			BinDir: bin,
		},
		fake: fake,
		out:  &out,
	}
}

func TestSettingsDefaults(t *testing.T) {
	in := newTestInstaller(t, "", "/data/builds", "")
	require.NoError(t, in.Settings())

	settings, err := in.Store.Builder()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(in.Home, "kdt", "boards"), settings.Boards)
	assert.Equal(t, "/data/builds", settings.Build)
	assert.False(t, settings.Eclipse)
	assert.Contains(t, in.out.String(), "[~/kdt/boards]")
}

func TestSettingsKeepsExistingValues(t *testing.T) {
	in := newTestInstaller(t, "Y")
	sec := config.NewSection(config.SectionBuilder)
	sec.Set(config.KeyBoards, "/srv/boards")
	sec.Set(config.KeyBuild, "/srv/build")
	require.NoError(t, in.Store.WriteSection(sec))

	require.NoError(t, in.Settings())
	settings, err := in.Store.Builder()
	require.NoError(t, err)
	assert.Equal(t, "/srv/boards", settings.Boards)
	assert.True(t, settings.Eclipse)
	assert.NotContains(t, in.out.String(), "kernel configs")

	got, _, err := in.Store.ReadSection(config.SectionBuilder)
	require.NoError(t, err)
	assert.Equal(t, "yes", got.Value(config.KeyEclipse))
}

func TestRunEverything(t *testing.T) {
	in := newTestInstaller(t,
		"", "", "no",
		"y", "yes", "y",
		"rpi4 DC:A6:32:01:02:03",
		"just-a-host",
		"pc 00:11:22:33:44:55",
		"",
	)
	require.NoError(t, in.Run(context.Background()))

	assert.Equal(t, []string{"git config --global diff.external kdt-diff"}, in.fake.Lines())

	bashrc, err := os.ReadFile(filepath.Join(in.Home, ".bashrc"))
	require.NoError(t, err)
	assert.Contains(t, string(bashrc), `command git fp "$@"`)
	assert.Contains(t, string(bashrc), "PATH=~/.local/bin:$PATH")

	for _, name := range []string{"kb", "gip", "git-fp", "kdt-diff"} {
		target, err := os.Readlink(filepath.Join(in.Home, ".local/bin", name))
		require.NoError(t, err, name)
		assert.Equal(t, filepath.Join(in.BinDir, name), target)
	}

	hosts, ok, err := in.Store.ReadSection(config.SectionGetIP)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"rpi4", "pc"}, hosts.Keys())
	assert.Equal(t, "dc:a6:32:01:02:03", hosts.Value("rpi4"))
	assert.Contains(t, in.out.String(), "Nope.")
}

func TestRunIsRepeatable(t *testing.T) {
	in := newTestInstaller(t, "", "", "", "y", "n", "n")
	require.NoError(t, in.Run(context.Background()))

	again := newTestInstaller(t, "y", "n", "n")
	again.Home = in.Home
	again.BinDir = in.BinDir
	again.Store = in.Store
	require.NoError(t, again.Run(context.Background()))

	bashrc, err := os.ReadFile(filepath.Join(in.Home, ".bashrc"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(bashrc), "function git {"))
	assert.Equal(t, 1, strings.Count(string(bashrc), "PATH=~/.local/bin:$PATH"))
	assert.Empty(t, again.fake.Lines())

	_, err = os.Readlink(filepath.Join(in.Home, ".local/bin", "gip"))
	assert.True(t, os.IsNotExist(err))
}

func TestParseMapping(t *testing.T) {
	m, err := ParseMapping("  rpi4    DC-A6-32-01-02-03 ")
	require.NoError(t, err)
	assert.Equal(t, Mapping{Host: "rpi4", MAC: "dc:a6:32:01:02:03"}, m)

	for _, line := range []string{"rpi4", "rpi4 aa:bb", "a b c"} {
		_, err := ParseMapping(line)
		assert.True(t, kdterr.Is(err, kdterr.KindUsage), line)
	}
}

func TestAddHostsReplaces(t *testing.T) {
	store := config.Open(filepath.Join(t.TempDir(), ".kdt"))
	require.NoError(t, AddHosts(store, Mapping{Host: "rpi4", MAC: "dc:a6:32:01:02:03"}))
	require.NoError(t, AddHosts(store, Mapping{Host: "rpi4", MAC: "dc:a6:32:01:02:04"}, Mapping{Host: "pc", MAC: "00:11:22:33:44:55"}))
	assert.Error(t, AddHosts(store, Mapping{Host: "", MAC: "00:11:22:33:44:55"}))

	sec, ok, err := store.ReadSection(config.SectionGetIP)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dc:a6:32:01:02:04", sec.Value("rpi4"))
	assert.Equal(t, 2, sec.Len())
}
