package kernel

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kdt-dev/kdt/pkg/disk"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/layout"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// copier builds the argv of one copy from src to dst.
type copier func(args ...string) []string

// transfer runs a copy. Copies are mutating steps and only printed in
// debug mode.
func (b *Builder) transfer(ctx context.Context, cp copier, sudo bool, src, dst string) error {
	_, err := runner.Must(ctx, b.exec, runner.Cmd{Args: cp(src, dst), Sudo: sudo, Trace: runner.Plan})
	return err
}

// remote joins a path below target, which is either a local folder or
// "root@<ip>:".
func remote(target string, elem ...string) string {
	return strings.TrimSuffix(target, "/") + "/" + path.Join(elem...)
}

func (b *Builder) artifacts(release string) layout.Artifacts {
	return layout.Artifacts{
		Arch:         b.board.Arch,
		KernelTarget: b.board.KernelTarget,
		Release:      release,
		DeviceTrees:  b.board.DtbPath != "",
		Overlays:     b.board.OverlayPath != "",
	}
}

// verify checks the build tree before anything is copied.
func (b *Builder) verify(release string) error {
	result := layout.VerifyBuild(b.paths, b.artifacts(release))
	if !result.Success {
		layout.PrintVerificationResult(b.out, result)
	}
	for _, w := range result.Warnings {
		b.log.Warn(w)
	}
	return result.Err()
}

func (b *Builder) transferModules(ctx context.Context, cp copier, sudo bool, release, target string) error {
	b.print.Step("# Copying Modules")
	return b.transfer(ctx, cp, sudo, b.paths.Modules(release), remote(target, "lib", "modules"))
}

func (b *Builder) transferKernel(ctx context.Context, cp copier, sudo bool, target string) error {
	b.print.Step("# Copying kernel")
	src := b.paths.KernelImage(b.board.Arch, b.board.KernelTarget)
	return b.transfer(ctx, cp, sudo, src, remote(target, "boot", b.board.KernelFile))
}

// transferDeviceTrees copies the vendor directory into the dtb path, or
// every vendor directory into its own subdirectory, then the overlays.
func (b *Builder) transferDeviceTrees(ctx context.Context, cp copier, sudo bool, target string) error {
	if b.board.DtbPath == "" {
		return nil
	}
	dts := b.paths.DtsDir(b.board.Arch)
	entries, err := os.ReadDir(dts)
	if err != nil {
		return kdterr.Errorf(kdterr.KindCommand, "build the kernel first: %w", err)
	}

	b.print.Step("# Copying Device Trees")
	dtbPath := remote(target, "boot", b.board.DtbPath)
	if b.board.Vendor != "" {
		src := filepath.Join(dts, b.board.Vendor) + "/"
		if err := b.transfer(ctx, cp, sudo, src, dtbPath); err != nil {
			return err
		}
	} else {
		for _, e := range entries {
			if !e.IsDir() || e.Name() == "overlays" {
				continue
			}
			src := filepath.Join(dts, e.Name()) + "/"
			if err := b.transfer(ctx, cp, sudo, src, dtbPath+"/"+e.Name()); err != nil {
				return err
			}
		}
	}

	if b.board.OverlayPath != "" {
		src := filepath.Join(dts, "overlays") + "/"
		return b.transfer(ctx, cp, sudo, src, remote(target, "boot", b.board.OverlayPath))
	}
	return nil
}

// RamfsCommand expands the board's update_ramfs snippet.
func (b *Builder) RamfsCommand(release string) ([]string, error) {
	if b.board.RamfsFile == "" {
		return nil, kdterr.Errorf(kdterr.KindConfig, "no ramfs file defined in section %s", b.board.SectionName())
	}
	if strings.TrimSpace(b.board.UpdateRamfs) == "" {
		return nil, kdterr.Errorf(kdterr.KindConfig, "no ramfs update command configured in section %s", b.board.SectionName())
	}
	cmd := strings.ReplaceAll(b.board.UpdateRamfs, "$version", release)
	cmd = strings.ReplaceAll(cmd, "$ramfs_file", "/boot/"+b.board.RamfsFile)
	return strings.Fields(cmd), nil
}

// NetworkCopy deploys to a board over ssh: modules, kernel and device
// trees, optionally regenerating the ramfs. With pack the newest package is
// installed with pacman instead.
func (b *Builder) NetworkCopy(ctx context.Context, ip string, pack, ramfs bool) error {
	if _, err := runner.Must(ctx, b.exec, runner.Cmd{Args: []string{"rsync", "--version"}, Output: runner.Discard}); err != nil {
		return err
	}
	if _, err := runner.Must(ctx, b.exec, runner.Cmd{Args: []string{"ping", "-c", "1", ip}, Output: runner.Discard}); err != nil {
		return kdterr.Errorf(kdterr.KindCommand, "%s is not reachable", ip)
	}
	target := "root@" + ip

	if pack {
		archive, err := NewestPackage(b.paths.Package)
		if err != nil {
			return err
		}
		b.print.StepDetail("# Installing package", filepath.Base(archive))
		scp := runner.Cmd{Args: runner.SCP(archive, target+":/root/"), Trace: runner.Plan}
		if _, err := runner.Must(ctx, b.exec, scp); err != nil {
			return err
		}
		install := runner.SSH(target, "pacman", "-U", "--noconfirm", "/root/"+filepath.Base(archive))
		_, err = runner.Must(ctx, b.exec, runner.Cmd{Args: install, Trace: runner.Plan})
		return err
	}

	release, err := b.Release(ctx)
	if err != nil {
		return err
	}
	var ramfsCmd []string
	if ramfs {
		if ramfsCmd, err = b.RamfsCommand(release); err != nil {
			return err
		}
	}
	if err := b.verify(release); err != nil {
		return err
	}

	dest := target + ":"
	if err := b.transferModules(ctx, runner.NetRsync, false, release, dest); err != nil {
		return err
	}
	if err := b.transferKernel(ctx, runner.SCP, false, dest); err != nil {
		return err
	}
	if err := b.transferDeviceTrees(ctx, runner.NetRsync, false, dest); err != nil {
		return err
	}
	if ramfs {
		b.print.Step("# Update initramfs")
		_, err := runner.Must(ctx, b.exec, runner.Cmd{Args: runner.SSH(append([]string{target}, ramfsCmd...)...), Trace: runner.Plan})
		return err
	}
	return nil
}

// DiskCopy deploys to an SD card, a disk image or a folder.
func (b *Builder) DiskCopy(ctx context.Context, dest string) error {
	release, err := b.Release(ctx)
	if err != nil {
		return err
	}
	if err := b.verify(release); err != nil {
		return err
	}

	kind := disk.Classify(dest)
	if kind == disk.Folder {
		return b.localCopy(ctx, dest, release, false)
	}

	point, err := os.MkdirTemp("", "kdt-mnt-")
	if err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	// Never RemoveAll a mount point.
	defer os.Remove(point)

	m, err := disk.Open(ctx, b.exec, dest, point)
	if err != nil {
		return err
	}
	b.log.Debugw("mounted", "dest", dest, "kind", kind.String(), "root", m.Root.String())

	copyErr := b.localCopy(ctx, point, release, true)
	if err := m.Unmount(ctx); err != nil {
		if copyErr != nil {
			b.log.Warnw("unmount failed", "error", err)
			return copyErr
		}
		return err
	}
	return copyErr
}

func (b *Builder) localCopy(ctx context.Context, folder, release string, sudo bool) error {
	if err := b.transferModules(ctx, runner.DiskRsync, sudo, release, folder); err != nil {
		return err
	}
	if err := b.transferKernel(ctx, runner.DiskRsync, sudo, folder); err != nil {
		return err
	}
	if err := b.transferDeviceTrees(ctx, runner.DiskRsync, sudo, folder); err != nil {
		return err
	}
	_, err := runner.Must(ctx, b.exec, runner.Cmd{Args: []string{"sync"}})
	return err
}
