package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdt-dev/kdt/pkg/kdterr"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestReadSectionMissingFile(t *testing.T) {
	store := Open(filepath.Join(t.TempDir(), ".kdt"))

	sec, ok, err := store.ReadSection(SectionGetIP)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, sec)
}

func TestReadSectionKeepsOrderAndShellValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".kdt")
	writeFile(t, path, `[get_ip]
Rock5B = aa:bb:cc:dd:ee:01
rpi4 = aa:bb:cc:dd:ee:02

[other]
on = ssh pdu "outlet 3 on" # not a comment
`)
	store := Open(path)

	sec, ok, err := store.ReadSection(SectionGetIP)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"rock5b", "rpi4"}, sec.Keys())
	assert.Equal(t, "aa:bb:cc:dd:ee:01", sec.Value("ROCK5B"))

	other, ok, err := store.ReadSection("other")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `ssh pdu "outlet 3 on" # not a comment`, other.Value("on"))
}

func TestLoadInheritsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boards_config")
	writeFile(t, path, `[DEFAULT]
cc_path = /opt/gcc/bin
kernel_target = zImage

[rpi_arm64]
kernel_target = Image

[bbb_arm]
`)

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Sections(), 2)

	rpi, ok := f.Section("rpi_arm64")
	require.True(t, ok)
	assert.Equal(t, "Image", rpi.Value("kernel_target"))
	assert.Equal(t, "/opt/gcc/bin", rpi.Value("cc_path"))
	assert.Equal(t, []string{"kernel_target", "cc_path"}, rpi.Keys())

	bbb, ok := f.Section("bbb_arm")
	require.True(t, ok)
	assert.Equal(t, "zImage", bbb.Value("kernel_target"))
	assert.Equal(t, "/opt/gcc/bin", bbb.Value("cc_path"))
}

func TestReadSectionMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".kdt")
	writeFile(t, path, "[kernel_builder\nkdt_boards = /x\n")

	_, _, err := Open(path).ReadSection(SectionBuilder)
	require.Error(t, err)
	assert.True(t, kdterr.Is(err, kdterr.KindConfig))
}

func TestWriteSectionCreatesAndMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", ".kdt")
	store := Open(path)

	builder := NewSection(SectionBuilder)
	builder.Set(KeyBoards, "/boards")
	builder.Set(KeyBuild, "/build")
	require.NoError(t, store.WriteSection(builder))

	hosts := NewSection(SectionGetIP)
	hosts.Set("rpi4", "aa:bb:cc:dd:ee:02")
	require.NoError(t, store.WriteSection(hosts))

	// Overwrite wholesale: the old key must disappear.
	hosts = NewSection(SectionGetIP)
	hosts.Set("rock5b", "aa:bb:cc:dd:ee:01")
	require.NoError(t, store.WriteSection(hosts))

	got, ok, err := store.ReadSection(SectionGetIP)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"rock5b": "aa:bb:cc:dd:ee:01"}, got.Map())

	kb, ok, err := store.ReadSection(SectionBuilder)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/boards", kb.Value(KeyBoards))
}

func TestBuilderSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".kdt")
	store := Open(path)

	_, err := store.Builder()
	assert.ErrorIs(t, err, ErrNotInstalled)

	writeFile(t, path, "[kernel_builder]\nkdt_boards = /b\nkdt_build = /o\nkdt_eclipse = y\n")
	settings, err := store.Builder()
	require.NoError(t, err)
	assert.Equal(t, "/b", settings.Boards)
	assert.Equal(t, "/o", settings.Build)
	assert.True(t, settings.Eclipse)
	assert.Equal(t, "/b/boards_config", settings.BoardsFile())

	writeFile(t, path, "[kernel_builder]\nkdt_boards = /b\n")
	_, err = store.Builder()
	require.Error(t, err)
	assert.True(t, kdterr.Is(err, kdterr.KindConfig))
}

func TestSectionDelete(t *testing.T) {
	sec := NewSection("s")
	sec.Set("a", "1")
	sec.Set("b", "2")
	sec.Set("A", "3")
	sec.Delete("a")
	sec.Delete("missing")

	assert.Equal(t, []string{"b"}, sec.Keys())
	assert.Equal(t, 1, sec.Len())
}

func TestTruthyAndExpandHome(t *testing.T) {
	for _, v := range []string{"yes", "Y", "true", "1", "on"} {
		assert.True(t, Truthy(v), v)
	}
	for _, v := range []string{"", "no", "n", "0", "off", "maybe"} {
		assert.False(t, Truthy(v), v)
	}

	assert.Equal(t, "/home/u/boards", ExpandHome("~/boards", "/home/u"))
	assert.Equal(t, "/home/u", ExpandHome("~", "/home/u"))
	assert.Equal(t, "/abs", ExpandHome("/abs", "/home/u"))
}
