package disk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// Kind is the type of a copy destination.
type Kind int

const (
	// Folder is a plain directory, copied into without mounting.
	Folder Kind = iota
	// Device is a block device whose partitions are mounted by node.
	Device
	// Image is a disk image mounted through a loop device.
	Image
)

func (k Kind) String() string {
	switch k {
	case Device:
		return "device"
	case Image:
		return "image"
	default:
		return "folder"
	}
}

// Classify decides how a destination is written.
func Classify(path string) Kind {
	if strings.HasPrefix(path, "/dev/") {
		return Device
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Folder
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		return Device
	case unix.S_IFREG:
		return Image
	}
	return Folder
}

// Mount is a mounted root partition with an optional boot partition under
// <Point>/boot.
type Mount struct {
	Point string
	Root  Partition
	Boot  *Partition

	exec runner.Executor
}

func loopOption(p Partition) []string {
	return []string{"-o", fmt.Sprintf("loop,offset=%d,sizelimit=%d", p.Offset, p.Size)}
}

// MountTable mounts the partitions of dest at point. With two partitions
// the second is root and the first is boot; a single partition is root.
// When the boot mount fails the root partition is unmounted again.
func MountTable(ctx context.Context, e runner.Executor, dest string, kind Kind, t *Table, point string) (*Mount, error) {
	m := &Mount{Point: point, exec: e}
	var boot *Partition
	if t.Second != nil {
		m.Root = *t.Second
		first := t.First
		boot = &first
	} else {
		m.Root = t.First
	}

	args := func(p Partition, at string) []string {
		argv := []string{"mount"}
		if kind == Image {
			argv = append(argv, loopOption(p)...)
			return append(argv, dest, at)
		}
		return append(argv, p.Name, at)
	}

	if _, err := runner.Must(ctx, e, runner.Cmd{Args: args(m.Root, point), Sudo: true, Trace: runner.Plan}); err != nil {
		return nil, kdterr.Errorf(kdterr.KindCommand, "failed to mount root partition of %s: %w", dest, err)
	}
	if boot == nil {
		return m, nil
	}

	bootPoint := filepath.Join(point, "boot")
	if _, err := runner.Must(ctx, e, runner.Cmd{Args: args(*boot, bootPoint), Sudo: true, Trace: runner.Plan}); err != nil {
		e.Run(ctx, runner.Cmd{Args: []string{"umount", point}, Sudo: true, Trace: runner.Plan})
		return nil, kdterr.Errorf(kdterr.KindCommand, "failed to mount boot partition of %s: %w", dest, err)
	}
	m.Boot = boot
	return m, nil
}

// Open reads the partition table of dest and mounts it at point.
func Open(ctx context.Context, e runner.Executor, dest string, point string) (*Mount, error) {
	kind := Classify(dest)
	if kind == Folder {
		return nil, kdterr.Errorf(kdterr.KindUsage, "%s is neither a device nor a disk image", dest)
	}
	if kind == Image {
		if _, err := os.Stat(dest); err != nil {
			return nil, fmt.Errorf("failed to access %s: %w", dest, err)
		}
	}
	t, err := ReadTable(ctx, e, dest, kind == Device)
	if err != nil {
		return nil, err
	}
	return MountTable(ctx, e, dest, kind, t, point)
}

// Unmount releases boot first, then root. Both are attempted even if the
// first one fails.
func (m *Mount) Unmount(ctx context.Context) error {
	var firstErr error
	if m.Boot != nil {
		if _, err := runner.Must(ctx, m.exec, runner.Cmd{Args: []string{"umount", filepath.Join(m.Point, "boot")}, Sudo: true, Trace: runner.Plan}); err != nil {
			firstErr = err
		}
	}
	if _, err := runner.Must(ctx, m.exec, runner.Cmd{Args: []string{"umount", m.Point}, Sudo: true, Trace: runner.Plan}); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
