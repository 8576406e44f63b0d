package kernel

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdt-dev/kdt/pkg/board"
	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/runner"
	"github.com/kdt-dev/kdt/pkg/runner/runnertest"
)

func rpiBoard(ccPath string) *board.Config {
	sec := config.NewSection("rpi_arm64")
	sec.Set("kernel_target", "Image")
	sec.Set("kernel_file", "kernel8.img")
	sec.Set("config_target", "bcm2711_defconfig")
	return &board.Config{
		Board:        "rpi",
		Arch:         "arm64",
		KernelTarget: "Image",
		KernelFile:   "kernel8.img",
		DtbPath:      ".",
		Vendor:       "broadcom",
		OverlayPath:  "overlays",
		RamfsFile:    "initramfs.img",
		UpdateRamfs:  "mkinitcpio -k $version -g $ramfs_file",
		On:           "ssh pdu  outlet 3 on",
		CC:           "aarch64-linux-gnu-",
		CCPath:       ccPath,
		Source:       board.SourceTarget,
		ConfigTarget: "bcm2711_defconfig",
		Section:      sec,
	}
}

func pcBoard() *board.Config {
	return &board.Config{
		Board:        "pc",
		Arch:         "x86_64",
		KernelTarget: "bzImage",
		KernelFile:   "vmlinuz-linux",
		PkgFolder:    "/pkg/linux",
		Source:       board.SourceGz,
	}
}

type testEnv struct {
	b    *Builder
	fake *runnertest.Fake
	out  *bytes.Buffer
	root string
}

func newTestBuilder(t *testing.T, cfg *board.Config, fake *runnertest.Fake, eclipse bool) *testEnv {
	t.Helper()
	root := t.TempDir()
	boards := filepath.Join(root, "boards")
	require.NoError(t, os.MkdirAll(boards, 0755))

	var out bytes.Buffer
	b, err := New(context.Background(), Options{
		Board:    cfg,
		Settings: &config.Settings{Boards: boards, Build: filepath.Join(root, "build"), Eclipse: eclipse},
		Source:   "/src/linux",
		Exec:     fake,
		Out:      &out,
		Jobs:     4,
		Getenv: func(k string) string {
			if k == "PATH" {
				return "/usr/bin:/bin"
			}
			return ""
		},
		LookPath: func(string) (string, error) { return "/usr/bin/ccache", nil },
	})
	require.NoError(t, err)
	return &testEnv{b: b, fake: fake, out: &out, root: root}
}

// configured makes the build tree look configured and built.
func (e *testEnv) configured(t *testing.T) {
	t.Helper()
	p := e.b.Paths()
	require.NoError(t, os.MkdirAll(filepath.Join(p.KernelBuild, "include/config"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(p.KernelBuild, "include/config/auto.conf"), nil, 0644))
}

func (e *testEnv) built(t *testing.T, release string) {
	t.Helper()
	e.configured(t)
	p := e.b.Paths()
	cfg := e.b.Board()
	require.NoError(t, os.MkdirAll(p.Modules(release), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(p.DtsDir(cfg.Arch), "broadcom"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(p.DtsDir(cfg.Arch), "overlays"), 0755))
	require.NoError(t, os.WriteFile(p.KernelImage(cfg.Arch, cfg.KernelTarget), nil, 0644))
}

// release answers make kernelrelease.
func release(version string) runnertest.Handler {
	return func(c runner.Cmd) (runner.Result, error) {
		if c.Args[len(c.Args)-1] == "kernelrelease" {
			return runner.Result{OK: true, Stdout: version}, nil
		}
		return runner.Result{OK: true}, nil
	}
}

func TestNewCrossCompiler(t *testing.T) {
	ccPath := t.TempDir()
	env := newTestBuilder(t, rpiBoard(ccPath), runnertest.New(), false)
	p := env.b.Paths()

	assert.Equal(t, []string{
		"-j4",
		"ARCH=arm64",
		"O=" + p.KernelBuild,
		"INSTALL_MOD_PATH=" + p.InstallModules,
		"CROSS_COMPILE=aarch64-linux-gnu-",
	}, env.b.MakeArgs())
	assert.Equal(t, []string{
		filepath.Join(ccPath, "aarch64-linux-gnu-gcc") + " --version",
		"ccache --version",
	}, env.fake.Lines())

	ccacheDir := filepath.Join(ccPath, "ccache")
	assert.Equal(t, ccacheDir+":"+ccPath+":/usr/bin:/bin", env.b.path)
	for _, tool := range []string{"gcc", "g++", "cpp", "c++"} {
		target, err := os.Readlink(filepath.Join(ccacheDir, "aarch64-linux-gnu-"+tool))
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/ccache", target)
	}
	assert.DirExists(t, p.InstallModules)
}

func TestNewX86(t *testing.T) {
	env := newTestBuilder(t, pcBoard(), runnertest.New(), false)
	assert.NotContains(t, strings.Join(env.b.MakeArgs(), " "), "CROSS_COMPILE")
	assert.Equal(t, "/usr/lib/ccache/bin:/usr/bin:/bin", env.b.path)
	assert.Equal(t, "gcc --version", env.fake.Lines()[0])

	env = newTestBuilder(t, pcBoard(), runnertest.New().Fail("ccache", ""), false)
	assert.Empty(t, env.b.path)
	assert.Nil(t, env.b.env(nil))
}

func TestNewCompilerMissing(t *testing.T) {
	root := t.TempDir()
	_, err := New(context.Background(), Options{
		Board:    pcBoard(),
		Settings: &config.Settings{Boards: root, Build: root},
		Exec:     runnertest.New().Missing("gcc"),
		Out:      &bytes.Buffer{},
	})
	require.Error(t, err)
	assert.True(t, kdterr.Is(err, kdterr.KindToolchain))

	_, err = New(context.Background(), Options{
		Board:    pcBoard(),
		Settings: &config.Settings{Boards: filepath.Join(root, "missing"), Build: root},
		Exec:     runnertest.New(),
	})
	assert.True(t, kdterr.Is(err, kdterr.KindConfig))
}

func TestDebugExports(t *testing.T) {
	ccPath := t.TempDir()
	root := t.TempDir()
	var out bytes.Buffer
	_, err := New(context.Background(), Options{
		Board:    rpiBoard(ccPath),
		Settings: &config.Settings{Boards: root, Build: root},
		Exec:     runnertest.New().Fail("ccache", ""),
		Debug:    true,
		Out:      &out,
		Getenv:   func(string) string { return "/usr/bin" },
	})
	require.NoError(t, err)
	assert.Equal(t, "export ARCH=arm64\nexport CROSS_COMPILE=aarch64-linux-gnu-\nexport PATH="+ccPath+":$PATH\n\n", out.String())
}

func TestBuild(t *testing.T) {
	fake := runnertest.New()
	env := newTestBuilder(t, rpiBoard(t.TempDir()), fake, false)

	require.NoError(t, env.b.Build(context.Background(), false))
	lines := env.fake.Lines()
	makePrefix := "make " + strings.Join(env.b.MakeArgs(), " ")
	assert.Equal(t, makePrefix+" Image modules dtbs", lines[len(lines)-2])
	assert.Equal(t, makePrefix+" modules_install", lines[len(lines)-1])
	assert.Contains(t, env.out.String(), "# Building the kernel")

	cmd, ok := fake.Find(makePrefix + " Image")
	require.True(t, ok)
	assert.Equal(t, "/src/linux", cmd.Dir)
	assert.Equal(t, runner.Plan, cmd.Trace)
	assert.Contains(t, cmd.Env["PATH"], "ccache")

	fake.Fail("make", "error: implicit declaration")
	err := env.b.Build(context.Background(), false)
	require.Error(t, err)
	assert.True(t, kdterr.Is(err, kdterr.KindCommand))
	assert.Contains(t, err.Error(), "implicit declaration")
}

func TestConfigureSources(t *testing.T) {
	cfg := rpiBoard(t.TempDir())
	env := newTestBuilder(t, cfg, runnertest.New(), false)
	require.NoError(t, env.b.Configure(context.Background(), false))
	assert.True(t, strings.HasSuffix(env.fake.Lines()[2], " bcm2711_defconfig"))
	assert.Contains(t, env.out.String(), "# Kernel config using bcm2711_defconfig")

	cfg.Source, cfg.ConfigFile = board.SourceFile, "/boards/rpi.config"
	env = newTestBuilder(t, cfg, runnertest.New(), false)
	require.NoError(t, env.b.Configure(context.Background(), true))
	lines := env.fake.Lines()
	assert.Equal(t, "cp /boards/rpi.config "+env.b.Paths().Config(), lines[2])
	assert.True(t, strings.HasSuffix(lines[3], " olddefconfig"))
	assert.Empty(t, env.out.String())
}

func TestConfigureGz(t *testing.T) {
	gz := filepath.Join(t.TempDir(), "config.gz")
	f, err := os.Create(gz)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte("CONFIG_LOCALVERSION=\"-kdt\"\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	saved := procConfigGz
	defer func() { procConfigGz = saved }()

	env := newTestBuilder(t, pcBoard(), runnertest.New(), false)

	procConfigGz = filepath.Join(t.TempDir(), "missing.gz")
	err = env.b.Configure(context.Background(), true)
	assert.True(t, kdterr.Is(err, kdterr.KindConfig))

	procConfigGz = gz
	require.NoError(t, env.b.Configure(context.Background(), true))
	data, err := os.ReadFile(env.b.Paths().Config())
	require.NoError(t, err)
	assert.Equal(t, "CONFIG_LOCALVERSION=\"-kdt\"\n", string(data))
}

func TestPackage(t *testing.T) {
	pkg := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "PKGBUILD"), []byte("pkgname=linux-devel\n"), 0644))
	cfg := pcBoard()
	cfg.PkgFolder = pkg

	fake := runnertest.New()
	env := newTestBuilder(t, cfg, fake, false)
	fake.Handle("make", release("6.6.0-kdt"))
	env.configured(t)
	p := env.b.Paths()
	fake.Handle("makepkg", func(c runner.Cmd) (runner.Result, error) {
		require.NoError(t, os.WriteFile(filepath.Join(c.Dir, "linux-devel-6.6-1-x86_64.pkg.tar.zst"), []byte("zst"), 0644))
		return runner.Result{OK: true}, nil
	})

	require.NoError(t, env.b.Build(context.Background(), true))

	cmd, ok := fake.Find("makepkg")
	require.True(t, ok)
	assert.Equal(t, p.Package, cmd.Dir)
	assert.Equal(t, "-j4 ARCH=x86_64 O="+p.KernelBuild, cmd.Env["KDT_MAKE_FLAGS"])
	assert.Equal(t, "6.6.0-kdt", cmd.Env["KDT_KERNEL_VERSION"])
	assert.Equal(t, "bzImage", cmd.Env["KDT_KERNEL_TARGET"])
	assert.Equal(t, "/src/linux", cmd.Env["KDT_KERNEL_SOURCE"])
	_, ok = fake.Find("rsync -rcptD --exclude=.* --mkpath --no-links " + pkg + "/ " + p.Package)
	assert.True(t, ok)
	assert.Contains(t, env.out.String(), "Package: "+filepath.Join(p.Package, "linux-devel-6.6-1-x86_64.pkg.tar.zst"))

	newest, err := NewestPackage(p.Package)
	require.NoError(t, err)
	assert.Equal(t, "linux-devel-6.6-1-x86_64.pkg.tar.zst", filepath.Base(newest))

	cfg.PkgFolder = ""
	err = env.b.Package(context.Background())
	assert.True(t, kdterr.Is(err, kdterr.KindConfig))
}

func TestReleaseNeedsConfig(t *testing.T) {
	env := newTestBuilder(t, pcBoard(), runnertest.New(), false)
	_, err := env.b.Release(context.Background())
	assert.True(t, kdterr.Is(err, kdterr.KindUsage))
}

func TestPower(t *testing.T) {
	fake := runnertest.New()
	env := newTestBuilder(t, rpiBoard(t.TempDir()), fake, false)

	require.NoError(t, env.b.Power(context.Background(), true))
	cmd, ok := fake.Find("ssh pdu")
	require.True(t, ok)
	assert.Equal(t, []string{"ssh", "pdu", "outlet", "3", "on"}, cmd.Args)

	err := env.b.Power(context.Background(), false)
	assert.True(t, kdterr.Is(err, kdterr.KindConfig))
}

func TestMakePassThrough(t *testing.T) {
	fake := runnertest.New()
	env := newTestBuilder(t, pcBoard(), fake, true)
	p := env.b.Paths()
	require.NoError(t, os.MkdirAll(filepath.Join(p.KernelBuild, "include/generated/uapi"), 0755))

	fake.Fail("make", "")
	err := env.b.Make(context.Background(), []string{"menuconfig"})
	assert.Equal(t, 1, kdterr.Code(err))

	cmd, ok := fake.Find("make -j4")
	require.True(t, ok)
	assert.Equal(t, runner.Stream, cmd.Output)
	assert.Equal(t, "menuconfig", cmd.Args[len(cmd.Args)-1])

	// Links are restored after make.
	target, err := os.Readlink(filepath.Join(p.EclipseInclude, "include", "generated"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.KernelBuild, "include"), target)
	target, err = os.Readlink(filepath.Join(p.EclipseInclude, "arch/x86/include/generated"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.KernelBuild, "arch/x86/include/generated"), target)

	require.NoError(t, env.b.EclipseLinks(context.Background(), false))
	assert.NoDirExists(t, filepath.Join(p.EclipseInclude, "include"))
}

func TestEclipseLinksPrepare(t *testing.T) {
	fake := runnertest.New()
	env := newTestBuilder(t, rpiBoard(t.TempDir()), fake, true)

	require.NoError(t, env.b.EclipseLinks(context.Background(), true))
	assert.Equal(t, 1, fake.Count("make -j4 ARCH=arm64"))
	assert.True(t, strings.HasSuffix(fake.Lines()[len(fake.Lines())-1], " modules_prepare"))
}

func TestWriteConfig(t *testing.T) {
	env := newTestBuilder(t, pcBoard(), runnertest.New(), false)
	var out bytes.Buffer
	err := env.b.WriteConfig(&out)
	assert.True(t, kdterr.Is(err, kdterr.KindUsage))

	require.NoError(t, os.WriteFile(env.b.Paths().Config(), []byte("CONFIG_X=y\n"), 0644))
	require.NoError(t, env.b.WriteConfig(&out))
	assert.Equal(t, "CONFIG_X=y\n", out.String())
}
