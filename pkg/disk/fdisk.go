// Package disk mounts the partitions of SD cards, block devices and disk
// images so that a kernel can be copied into them.
package disk

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// Partition is one entry of a partition table, in bytes.
type Partition struct {
	Name   string
	Offset int64
	Size   int64
}

func (p Partition) String() string {
	return fmt.Sprintf("%s (%s at %d)", p.Name, humanize.IBytes(uint64(p.Size)), p.Offset)
}

// Table holds the first two partitions of a disk. Second is nil for single
// partition disks.
type Table struct {
	Unit   int64
	First  Partition
	Second *Partition
}

// FdiskArgs returns the fdisk invocation parsed by ParseFdisk.
func FdiskArgs(img string) []string {
	return []string{"fdisk", "-o", "Device,Start,Sectors", "-l", img}
}

// ParseFdisk parses the output of FdiskArgs(img). Partition rows are
// recognised as <img>1 and <img>2, or <img>p1 and <img>p2 for mmcblk and
// loop devices.
func ParseFdisk(img, output string) (*Table, error) {
	t := &Table{}
	var first, second *Partition

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "Units:") {
			unit, err := parseUnit(line)
			if err != nil {
				return nil, kdterr.Errorf(kdterr.KindCommand, "failed to parse fdisk output from image %s: %w", img, err)
			}
			t.Unit = unit
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		var index int
		switch fields[0] {
		case img + "1", img + "p1":
			index = 1
		case img + "2", img + "p2":
			index = 2
		default:
			continue
		}
		start, err1 := strconv.ParseInt(fields[1], 10, 64)
		sectors, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			return nil, kdterr.Errorf(kdterr.KindCommand, "failed to parse fdisk output from image %s: bad row %q", img, line)
		}
		p := &Partition{Name: fields[0], Offset: start, Size: sectors}
		if index == 1 {
			first = p
		} else {
			second = p
		}
	}

	if t.Unit == 0 || first == nil || first.Offset == 0 || first.Size == 0 {
		return nil, kdterr.Errorf(kdterr.KindCommand, "failed to parse fdisk output from image %s", img)
	}
	first.Offset *= t.Unit
	first.Size *= t.Unit
	t.First = *first
	if second != nil && second.Offset > 0 {
		second.Offset *= t.Unit
		second.Size *= t.Unit
		t.Second = second
	}
	return t, nil
}

// parseUnit reads "Units: sectors of 1 * 512 = 512 bytes".
func parseUnit(line string) (int64, error) {
	i := strings.Index(line, "= ")
	j := strings.LastIndex(line, " bytes")
	if i < 0 || j < i+2 {
		return 0, fmt.Errorf("no unit in %q", line)
	}
	return strconv.ParseInt(strings.TrimSpace(line[i+2:j]), 10, 64)
}

// ReadTable runs fdisk on img and parses its output.
func ReadTable(ctx context.Context, e runner.Executor, img string, sudo bool) (*Table, error) {
	res, err := runner.Must(ctx, e, runner.Cmd{Args: FdiskArgs(img), Sudo: sudo, Trace: runner.Silent})
	if err != nil {
		return nil, err
	}
	return ParseFdisk(img, res.Stdout)
}
