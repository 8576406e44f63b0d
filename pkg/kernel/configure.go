package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/kdt-dev/kdt/pkg/board"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/layout"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// procConfigGz is a variable so tests can point it elsewhere.
var procConfigGz = layout.ProcConfigGz

// Configure writes the kernel .config from the board's configuration
// source and refreshes the eclipse links. silent hides the progress line.
func (b *Builder) Configure(ctx context.Context, silent bool) error {
	step := func(source string) {
		if !silent {
			b.print.StepDetail("# Kernel config using", source)
		}
	}

	switch b.board.Source {
	case board.SourceTarget:
		step(b.board.ConfigTarget)
		if err := b.make(ctx, b.board.ConfigTarget); err != nil {
			return err
		}
	case board.SourceFile:
		step(b.board.ConfigFile)
		cp := runner.Cmd{Args: []string{"cp", b.board.ConfigFile, b.paths.Config()}, Trace: runner.Plan}
		if _, err := runner.Must(ctx, b.exec, cp); err != nil {
			return err
		}
		if err := b.make(ctx, "olddefconfig"); err != nil {
			return err
		}
	case board.SourceGz:
		step(procConfigGz)
		if _, err := os.Stat(procConfigGz); err != nil {
			return kdterr.Errorf(kdterr.KindConfig, "%s does not exist", procConfigGz)
		}
		if b.debug {
			fmt.Fprintf(b.out, "zcat %s > %s\n", procConfigGz, b.paths.Config())
		} else if err := DecompressConfig(procConfigGz, b.paths.Config()); err != nil {
			return err
		}
		if err := b.make(ctx, "olddefconfig"); err != nil {
			return err
		}
	default:
		return kdterr.Errorf(kdterr.KindBoard, "no config options are set")
	}
	return b.EclipseLinks(ctx, true)
}

// DecompressConfig writes the gzip compressed kernel config src to dst.
func DecompressConfig(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, zr); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decompress %s: %w", src, err)
	}
	return nil
}
