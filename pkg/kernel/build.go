package kernel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/layout"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// makeBuild builds the board targets. A failed build is returned as a
// result, the caller decides whether it is fatal. warn adds W=<warn>.
func (b *Builder) makeBuild(ctx context.Context, warn int) (runner.Result, error) {
	args := b.board.BuildTargets()
	if warn > 0 {
		args = append(args, fmt.Sprintf("W=%d", warn))
	}
	return b.exec.Run(ctx, b.makeCmd(runner.Plan, args...))
}

// Build builds the kernel, modules and device trees and installs the
// modules, or builds an Arch Linux package when pack is set.
func (b *Builder) Build(ctx context.Context, pack bool) error {
	if pack {
		return b.Package(ctx)
	}

	b.print.Step("# Building the kernel")
	res, err := b.makeBuild(ctx, 0)
	if err != nil {
		return err
	}
	if !res.OK {
		return kdterr.Errorf(kdterr.KindCommand, "kernel build failed:\n%s", res.Stderr)
	}

	b.print.Step("# Doing modules_install")
	return b.make(ctx, "modules_install")
}

// PackageEnv returns the variables exported to makepkg. The PKGBUILD
// reads them to build out of the kdt build tree.
func (b *Builder) PackageEnv(release string) map[string]string {
	var flags []string
	for _, arg := range b.makeArgs {
		if strings.Contains(arg, "INSTALL_MOD_PATH") || strings.Contains(arg, "INSTALL_DTBS_PATH") {
			continue
		}
		flags = append(flags, arg)
	}
	return map[string]string{
		"KDT_MAKE_FLAGS":     strings.Join(flags, " "),
		"KDT_KERNEL_BUILD":   b.paths.KernelBuild,
		"KDT_KERNEL_SOURCE":  b.source,
		"ARCH":               b.board.Arch,
		"KDT_KERNEL_TARGET":  b.board.KernelTarget,
		"KDT_KERNEL_FILE":    b.board.KernelFile,
		"KDT_DTB_PATH":       b.board.DtbPath,
		"KDT_KERNEL_VERSION": release,
	}
}

// Package runs makepkg on a copy of the board's PKGBUILD folder and lists
// the produced archives.
func (b *Builder) Package(ctx context.Context) error {
	if b.board.PkgFolder == "" {
		return kdterr.Errorf(kdterr.KindConfig, "missing \"pkg_folder\" in board configuration section %s", b.board.SectionName())
	}
	pkgbuild := filepath.Join(b.board.PkgFolder, "PKGBUILD")
	b.print.StepDetail("# Building Arch Linux package", pkgbuild)
	if _, err := os.Stat(pkgbuild); err != nil {
		return kdterr.Errorf(kdterr.KindConfig, "%s does not exist", pkgbuild)
	}

	copyPkg := runner.Cmd{Args: runner.DiskRsync(b.board.PkgFolder+"/", b.paths.Package), Trace: runner.Plan}
	if _, err := runner.Must(ctx, b.exec, copyPkg); err != nil {
		return err
	}

	release, err := b.Release(ctx)
	if err != nil {
		return err
	}
	makepkg := runner.Cmd{
		Args:  []string{"makepkg", "--skipchecksums", "--skippgpcheck", "-f"},
		Dir:   b.paths.Package,
		Env:   b.env(b.PackageEnv(release)),
		Trace: runner.Plan,
	}
	if _, err := runner.Must(ctx, b.exec, makepkg); err != nil {
		return err
	}

	archives, err := filepath.Glob(filepath.Join(b.paths.Package, "*.zst"))
	if err != nil {
		return err
	}
	sort.Strings(archives)
	for _, archive := range archives {
		size := ""
		if info, err := os.Stat(archive); err == nil {
			size = " (" + humanize.Bytes(uint64(info.Size())) + ")"
		}
		fmt.Fprintf(b.out, "Package: %s%s\n", archive, size)
	}
	return nil
}

// NewestPackage returns the most recently built package archive.
func NewestPackage(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, layout.PackageGlob))
	if err != nil {
		return "", err
	}
	var newest string
	var newestInfo os.FileInfo
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if newestInfo == nil || info.ModTime().After(newestInfo.ModTime()) {
			newest, newestInfo = m, info
		}
	}
	if newest == "" {
		return "", kdterr.Errorf(kdterr.KindUsage, "no package found in %s, run build --pack first", dir)
	}
	return newest, nil
}
