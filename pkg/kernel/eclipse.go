package kernel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/sh"

	"github.com/kdt-dev/kdt/pkg/layout"
)

// EclipseLinks creates or removes the links that let Eclipse index the
// generated headers of the build tree:
//
//	<eclipse_include>/include/generated           -> <build>/include
//	<eclipse_include>/arch/<arch>/include/generated -> <build>/arch/<arch>/include/generated
//
// Nothing happens unless kdt_eclipse is enabled.
func (b *Builder) EclipseLinks(ctx context.Context, create bool) error {
	if !b.eclipse {
		return nil
	}
	archInclude := layout.ArchInclude(b.board.Arch)
	include := filepath.Join(b.paths.EclipseInclude, "include")
	arch := filepath.Join(b.paths.EclipseInclude, archInclude)

	if !create {
		for _, dir := range []string{include, arch} {
			if err := sh.Rm(dir); err != nil {
				return fmt.Errorf("failed to remove eclipse links: %w", err)
			}
		}
		return nil
	}

	if _, err := os.Stat(filepath.Join(b.paths.KernelBuild, layout.GeneratedUAPI)); err != nil {
		if err := b.make(ctx, "modules_prepare"); err != nil {
			return err
		}
	}

	links := []struct{ target, link string }{
		{filepath.Join(b.paths.KernelBuild, "include"), filepath.Join(include, "generated")},
		{filepath.Join(b.paths.KernelBuild, archInclude, "generated"), filepath.Join(arch, "generated")},
	}
	for _, l := range links {
		if err := os.MkdirAll(filepath.Dir(l.link), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(l.link), err)
		}
		os.Remove(l.link)
		if err := os.Symlink(l.target, l.link); err != nil {
			return fmt.Errorf("failed to link %s: %w", l.link, err)
		}
	}
	return nil
}
