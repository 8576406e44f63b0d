// Package kernel configures, builds, packages and deploys a Linux kernel
// for one board of the board registry.
package kernel

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/kdt-dev/kdt/pkg/board"
	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/layout"
	"github.com/kdt-dev/kdt/pkg/logging"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// x86 distributions ship ccache wrappers here.
const systemCcacheDir = "/usr/lib/ccache/bin"

// Options configure a Builder.
type Options struct {
	Board    *board.Config
	Settings *config.Settings
	// Source is the kernel source tree, usually the working directory.
	Source string
	Exec   runner.Executor
	Debug  bool
	Out    io.Writer
	Log    *zap.SugaredLogger

	// Jobs is the make parallelism, runtime.NumCPU() when zero.
	Jobs int
	// Getenv and LookPath default to the os/exec versions.
	Getenv   func(string) string
	LookPath func(string) (string, error)
}

// Builder runs the kernel workflows of one board.
type Builder struct {
	board   *board.Config
	paths   layout.Paths
	eclipse bool
	source  string
	exec    runner.Executor
	debug   bool
	out     io.Writer
	print   logging.Printer
	log     *zap.SugaredLogger

	makeArgs []string
	// path is the PATH handed to make, empty to inherit.
	path string
}

// New prepares the build environment: make arguments, compiler path with
// ccache and the per-board build directories.
func New(ctx context.Context, opts Options) (*Builder, error) {
	if opts.Board == nil || opts.Settings == nil {
		return nil, fmt.Errorf("board and settings are required")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Jobs == 0 {
		opts.Jobs = runtime.NumCPU()
	}
	if _, err := os.Stat(opts.Settings.Boards); err != nil {
		return nil, kdterr.Errorf(kdterr.KindConfig, "boards folder doesn't exist: %s", opts.Settings.Boards)
	}

	b := &Builder{
		board:   opts.Board,
		paths:   layout.ForBoard(opts.Settings.Build, opts.Board.Board),
		eclipse: opts.Settings.Eclipse,
		source:  opts.Source,
		exec:    opts.Exec,
		debug:   opts.Debug,
		out:     opts.Out,
		print:   logging.Printer{Out: opts.Out},
		log:     opts.Log,
	}

	b.makeArgs = []string{
		fmt.Sprintf("-j%d", opts.Jobs),
		"ARCH=" + b.board.Arch,
		"O=" + b.paths.KernelBuild,
		"INSTALL_MOD_PATH=" + b.paths.InstallModules,
	}
	if b.debug {
		fmt.Fprintf(b.out, "export ARCH=%s\n", b.board.Arch)
	}
	if cc := b.crossCompile(); cc != "" {
		b.makeArgs = append(b.makeArgs, "CROSS_COMPILE="+cc)
		if b.debug {
			fmt.Fprintf(b.out, "export CROSS_COMPILE=%s\n", cc)
		}
	}

	prefix, err := b.compilerPath(ctx, opts.LookPath)
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		b.path = prefix + ":" + opts.Getenv("PATH")
		if b.debug {
			fmt.Fprintf(b.out, "export PATH=%s:$PATH\n\n", prefix)
		}
	}

	if err := b.paths.Ensure(); err != nil {
		return nil, fmt.Errorf("failed to create build directories: %w", err)
	}
	b.log.Debugw("builder ready", "board", b.board.String(), "build", b.paths.KernelBuild)
	return b, nil
}

// Paths returns the build tree of the board.
func (b *Builder) Paths() layout.Paths { return b.paths }

// Board returns the resolved board configuration.
func (b *Builder) Board() *board.Config { return b.board }

// MakeArgs returns the internal make parameters.
func (b *Builder) MakeArgs() []string {
	return append([]string(nil), b.makeArgs...)
}

func (b *Builder) crossCompile() string {
	if b.board.IsX86() {
		return ""
	}
	return b.board.CC
}

// compilerPath checks the compiler and returns what goes in front of PATH.
// With ccache installed, x86 uses the system wrappers and cross compilers
// get a directory of ccache symlinks named after the compiler.
func (b *Builder) compilerPath(ctx context.Context, lookPath func(string) (string, error)) (string, error) {
	ccPath, cc := "", ""
	if !b.board.IsX86() {
		ccPath, cc = b.board.CCPath, b.board.CC
	}

	gcc := cc + "gcc"
	if ccPath != "" {
		gcc = filepath.Join(ccPath, gcc)
	}
	if !runner.Available(ctx, b.exec, gcc, "--version") {
		return "", kdterr.Errorf(kdterr.KindToolchain, "compiler not found: %s", gcc)
	}

	if !runner.Available(ctx, b.exec, "ccache", "--version") {
		b.log.Debug("ccache not available")
		return ccPath, nil
	}
	if b.board.IsX86() {
		return systemCcacheDir, nil
	}

	ccacheDir := filepath.Join(b.paths.Root, "ccache")
	if ccPath != "" {
		ccacheDir = filepath.Join(ccPath, "ccache")
	}
	if _, err := os.Stat(ccacheDir); err != nil {
		if err := linkCcache(ccacheDir, cc, lookPath); err != nil {
			return "", err
		}
	}
	if ccPath == "" {
		return ccacheDir, nil
	}
	return ccacheDir + ":" + ccPath, nil
}

func linkCcache(dir, cc string, lookPath func(string) (string, error)) error {
	ccache, err := lookPath("ccache")
	if err != nil {
		return kdterr.Errorf(kdterr.KindToolchain, "failed to find ccache: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, tool := range []string{"gcc", "g++", "cpp", "c++"} {
		link := filepath.Join(dir, cc+tool)
		os.Remove(link)
		if err := os.Symlink(ccache, link); err != nil {
			return fmt.Errorf("failed to link %s: %w", link, err)
		}
	}
	return nil
}

func (b *Builder) env(extra map[string]string) map[string]string {
	if b.path == "" && len(extra) == 0 {
		return nil
	}
	env := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		env[k] = v
	}
	if b.path != "" {
		env["PATH"] = b.path
	}
	return env
}

// makeCmd builds a make invocation with the internal parameters.
func (b *Builder) makeCmd(trace runner.Trace, args ...string) runner.Cmd {
	argv := append([]string{"make"}, b.makeArgs...)
	return runner.Cmd{
		Args:  append(argv, args...),
		Dir:   b.source,
		Env:   b.env(nil),
		Trace: trace,
	}
}

// make runs a make target that must succeed.
func (b *Builder) make(ctx context.Context, args ...string) error {
	_, err := runner.Must(ctx, b.exec, b.makeCmd(runner.Plan, args...))
	return err
}

// Release returns the output of make kernelrelease. The kernel must have
// been configured.
func (b *Builder) Release(ctx context.Context) (string, error) {
	if !b.paths.Configured() {
		return "", kdterr.Errorf(kdterr.KindUsage, "configure the kernel first")
	}
	res, err := b.exec.Run(ctx, b.makeCmd(runner.Silent, "--no-print-directory", "kernelrelease"))
	if err != nil {
		return "", err
	}
	b.print.Version(res.Stdout)
	if !res.OK {
		return "", kdterr.Errorf(kdterr.KindCommand, "failed to make kernelrelease: %s", res.Stderr)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Make passes args straight to make with the internal parameters. The
// eclipse links are dropped while make runs. A failing make is reported
// through its exit status.
func (b *Builder) Make(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if err := b.EclipseLinks(ctx, false); err != nil {
		return err
	}
	cmd := b.makeCmd(runner.Plan, args...)
	cmd.Output = runner.Stream
	res, err := b.exec.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if err := b.EclipseLinks(ctx, true); err != nil {
		return err
	}
	if !res.OK {
		return kdterr.Exit(res.Code)
	}
	return nil
}

// Power runs the board's on or off snippet.
func (b *Builder) Power(ctx context.Context, on bool) error {
	snippet, name := b.board.Off, "off"
	if on {
		snippet, name = b.board.On, "on"
	}
	argv := strings.Fields(snippet)
	if len(argv) == 0 {
		return kdterr.Errorf(kdterr.KindConfig, "no %q command configured in section %s", name, b.board.SectionName())
	}
	_, err := runner.Must(ctx, b.exec, runner.Cmd{Args: argv, Trace: runner.Echo})
	return err
}

// WriteConfig prints the kernel .config.
func (b *Builder) WriteConfig(w io.Writer) error {
	data, err := os.ReadFile(b.paths.Config())
	if err != nil {
		return kdterr.Errorf(kdterr.KindUsage, "failed to read .config, configure the kernel first: %w", err)
	}
	_, err = w.Write(data)
	return err
}
