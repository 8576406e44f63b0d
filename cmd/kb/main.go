// kb - Linux kernel builder for embedded boards
//
// Configures, builds, packages and deploys a kernel for the board selected
// with the "board" (and optionally "arch") environment variables. Anything
// that is not a kb command is passed to make with the board's parameters.
//
// Usage:
//   export board=rpi
//   kb config
//   kb build
//   kb scp 192.168.1.10
//   kb menuconfig
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kdt-dev/kdt/pkg/board"
	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/install"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/kernel"
	"github.com/kdt-dev/kdt/pkg/layout"
	"github.com/kdt-dev/kdt/pkg/logging"
	"github.com/kdt-dev/kdt/pkg/runner"
)

var (
	version = "1.0.0"
	debug   bool
	verbose bool
)

func main() {
	rootCmd := newRootCmd()

	args := os.Args[1:]
	if passThrough(rootCmd, args) {
		err := runMake(args)
		exit(err)
		return
	}

	rootCmd.SetArgs(args)
	exit(rootCmd.Execute())
}

func exit(err error) {
	if err == nil {
		return
	}
	if !kdterr.Silent(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(kdterr.Code(err))
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kb",
		Short: "Linux kernel builder",
		Long: `kb builds a Linux kernel for the board selected in the environment.

Select the board with "export board=NAME" and optionally "export arch=ARCH".
The kernel config comes from the board section of boards_config unless one
of config_target, config_file or config_gz is exported.

Any argument that is not a kb command is passed directly to make using the
internal parameters of the build, e.g. "kb menuconfig".

Environment Variables:
  board, arch          Board selection
  config_target        make target used to configure the kernel
  config_file          Kernel config file copied to .config
  config_gz            Use /proc/config.gz
  KDT_CONFIG           Settings file (default ~/.kdt)
  KDT_OUTPUT           json or yaml output for env and section`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Print all commands being executed")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose diagnostics")

	rootCmd.AddCommand(
		newConfigCmd(),
		newBuildCmd(),
		newScpCmd(),
		newCpCmd(),
		newCfgCmd(),
		newPowerCmd(true),
		newPowerCmd(false),
		newCheckCmd(),
		newEnvCmd(),
		newSectionCmd(),
		newBoardsCmd(),
	)
	return rootCmd
}

// passThrough reports whether args are a make invocation rather than a kb
// command. A leading -d is allowed in both cases.
func passThrough(root *cobra.Command, args []string) bool {
	rest := args
	for len(rest) > 0 && (rest[0] == "-d" || rest[0] == "--debug") {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return false
	}
	switch rest[0] {
	case "-h", "--help", "help", "-v", "--verbose", "--version":
		return false
	}
	for _, c := range root.Commands() {
		if c.Name() == rest[0] || c.HasAlias(rest[0]) {
			return false
		}
	}
	return true
}

func runMake(args []string) error {
	for len(args) > 0 && (args[0] == "-d" || args[0] == "--debug") {
		debug = true
		args = args[1:]
	}
	ctx := context.Background()
	b, err := newBuilder(ctx)
	if err != nil {
		return err
	}
	return b.Make(ctx, args)
}

// settings reads kernel_builder, running the install flow on first use.
func settings(ctx context.Context, log *zap.SugaredLogger) (*config.Settings, error) {
	store, err := config.OpenDefault()
	if err != nil {
		return nil, err
	}
	s, err := store.Builder()
	if !errors.Is(err, config.ErrNotInstalled) {
		return s, err
	}

	fmt.Println("kdt is not installed yet, running the installation.")
	in, err := install.Default(runner.New(debug, log), log)
	if err != nil {
		return nil, err
	}
	if err := in.Run(ctx); err != nil {
		return nil, fmt.Errorf("installation failed: %w", err)
	}
	return nil, kdterr.Errorf(kdterr.KindConfig, "installation finished, add your boards to %s and run kb again", store.Path)
}

func loadRegistry(ctx context.Context, log *zap.SugaredLogger) (*config.Settings, *board.Registry, error) {
	s, err := settings(ctx, log)
	if err != nil {
		return nil, nil, err
	}
	reg, err := board.Load(s.BoardsFile(), log)
	if err != nil {
		return nil, nil, err
	}
	return s, reg, nil
}

func newBuilder(ctx context.Context) (*kernel.Builder, error) {
	log := logging.New(verbose)
	s, reg, err := loadRegistry(ctx, log)
	if err != nil {
		return nil, err
	}

	home, _ := os.UserHomeDir()
	cfg, err := reg.Resolve(board.SelectionFromEnv(os.Getenv), home, s.Boards)
	if err != nil {
		return nil, err
	}

	source, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	return kernel.New(ctx, kernel.Options{
		Board:    cfg,
		Settings: s,
		Source:   source,
		Exec:     runner.New(debug, log),
		Debug:    debug,
		Out:      os.Stdout,
		Log:      log,
	})
}

// withBuilder adapts a Builder action to a cobra RunE.
func withBuilder(fn func(ctx context.Context, b *kernel.Builder, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		b, err := newBuilder(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, b, args)
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Configure the kernel",
		Long: `Configure the kernel.

export config_file=CONFIG     CONFIG is copied to .config and olddefconfig is run.
export config_target=CONFIG   make CONFIG configures the kernel.
export config_gz=1            /proc/config.gz is copied to .config and olddefconfig is run.`,
		Args: cobra.NoArgs,
		RunE: withBuilder(func(ctx context.Context, b *kernel.Builder, _ []string) error {
			return b.Configure(ctx, false)
		}),
	}
}

func newBuildCmd() *cobra.Command {
	var pack bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the kernel",
		Args:  cobra.NoArgs,
		RunE: withBuilder(func(ctx context.Context, b *kernel.Builder, _ []string) error {
			return b.Build(ctx, pack)
		}),
	}

	cmd.Flags().BoolVarP(&pack, "pack", "p", false, "Build an Arch Linux package instead")
	return cmd
}

func newScpCmd() *cobra.Command {
	var (
		pack  bool
		ramfs bool
	)

	cmd := &cobra.Command{
		Use:   "scp <ip>",
		Short: "Copy kernel, device trees and modules to the board over ssh",
		Args:  cobra.ExactArgs(1),
		RunE: withBuilder(func(ctx context.Context, b *kernel.Builder, args []string) error {
			return b.NetworkCopy(ctx, args[0], pack, ramfs)
		}),
	}

	cmd.Flags().BoolVarP(&pack, "pack", "p", false, "Install an Arch Linux package instead")
	cmd.Flags().BoolVarP(&ramfs, "ramfs", "r", false, "Update the initramfs")
	return cmd
}

func newCpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <path>",
		Short: "Copy kernel, device trees and modules to an SD card, disk image or folder",
		Args:  cobra.ExactArgs(1),
		RunE: withBuilder(func(ctx context.Context, b *kernel.Builder, args []string) error {
			return b.DiskCopy(ctx, args[0])
		}),
	}
}

func newCfgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cfg",
		Short: "Output the kernel config being used",
		Args:  cobra.NoArgs,
		RunE: withBuilder(func(_ context.Context, b *kernel.Builder, _ []string) error {
			return b.WriteConfig(os.Stdout)
		}),
	}
}

func newPowerCmd(on bool) *cobra.Command {
	use, short := "off", "Power off the board"
	if on {
		use, short = "on", "Power on the board"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: withBuilder(func(ctx context.Context, b *kernel.Builder, _ []string) error {
			return b.Power(ctx, on)
		}),
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <N|folder>",
		Short: "Check kernel build warnings and checkpatch for the last N commits or a patch folder",
		Args:  cobra.ExactArgs(1),
		RunE: withBuilder(func(ctx context.Context, b *kernel.Builder, args []string) error {
			return b.Check(ctx, args[0])
		}),
	}
}

func outputFlag(cmd *cobra.Command, output *string) {
	cmd.Flags().StringVarP(output, "output", "o", os.Getenv(layout.EnvOutput), "Output format: text, json or yaml")
}

func newEnvCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the build environment",
		Args:  cobra.NoArgs,
		RunE: withBuilder(func(_ context.Context, b *kernel.Builder, _ []string) error {
			format, err := kernel.Format(output)
			if err != nil {
				return err
			}
			home, _ := os.UserHomeDir()
			return b.WriteEnvironment(os.Stdout, format, home)
		}),
	}

	outputFlag(cmd, &output)
	return cmd
}

func newSectionCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "section",
		Short: "Print the board configuration section",
		Args:  cobra.NoArgs,
		RunE: withBuilder(func(_ context.Context, b *kernel.Builder, _ []string) error {
			format, err := kernel.Format(output)
			if err != nil {
				return err
			}
			return b.WriteSection(os.Stdout, format)
		}),
	}

	outputFlag(cmd, &output)
	return cmd
}

func newBoardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the configured boards and their architectures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose)
			_, reg, err := loadRegistry(context.Background(), log)
			if err != nil {
				return err
			}
			available := reg.AvailableBoards()
			for _, name := range reg.BoardNames() {
				fmt.Printf("%-20s %v\n", name, available[name])
			}
			return nil
		},
	}
}
