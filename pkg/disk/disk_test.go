package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/runner/runnertest"
)

const rpiImage = `Disk rpi.img: 1.86 GiB, 2000000000 bytes, 3906250 sectors
Units: sectors of 1 * 512 = 512 bytes
Sector size (logical/physical): 512 bytes / 512 bytes
I/O size (minimum/optimal): 512 bytes / 512 bytes
Disklabel type: dos
Disk identifier: 0x9c46674d

Device     Start     Sectors
rpi.img1    8192      524288
rpi.img2  532480     3373770
`

func TestParseFdiskTwoPartitions(t *testing.T) {
	table, err := ParseFdisk("rpi.img", rpiImage)
	require.NoError(t, err)

	assert.Equal(t, int64(512), table.Unit)
	assert.Equal(t, Partition{Name: "rpi.img1", Offset: 8192 * 512, Size: 524288 * 512}, table.First)
	require.NotNil(t, table.Second)
	assert.Equal(t, Partition{Name: "rpi.img2", Offset: 532480 * 512, Size: 3373770 * 512}, *table.Second)
}

func TestParseFdiskMmcblk(t *testing.T) {
	out := `Disk /dev/mmcblk0: 29.72 GiB, 31914983424 bytes, 62333952 sectors
Units: sectors of 1 * 4096 = 4096 bytes

Device           Start  Sectors
/dev/mmcblk0p1    2048  62331904
`
	table, err := ParseFdisk("/dev/mmcblk0", out)
	require.NoError(t, err)
	assert.Equal(t, "/dev/mmcblk0p1", table.First.Name)
	assert.Equal(t, int64(2048*4096), table.First.Offset)
	assert.Nil(t, table.Second)
}

func TestParseFdiskErrors(t *testing.T) {
	noUnit := "Device Start Sectors\nrpi.img1 8192 524288\n"
	_, err := ParseFdisk("rpi.img", noUnit)
	require.Error(t, err)
	assert.True(t, kdterr.Is(err, kdterr.KindCommand))

	noPartition := "Units: sectors of 1 * 512 = 512 bytes\n"
	_, err = ParseFdisk("rpi.img", noPartition)
	require.Error(t, err)

	// /dev/sda11 must not be taken for /dev/sda1
	other := "Units: sectors of 1 * 512 = 512 bytes\n/dev/sda11 2048 4096\n"
	_, err = ParseFdisk("/dev/sda", other)
	require.Error(t, err)
}

func TestMountImage(t *testing.T) {
	table, err := ParseFdisk("rpi.img", rpiImage)
	require.NoError(t, err)
	fake := runnertest.New()

	m, err := MountTable(context.Background(), fake, "rpi.img", Image, table, "/mnt/kdt")
	require.NoError(t, err)
	require.NotNil(t, m.Boot)
	require.NoError(t, m.Unmount(context.Background()))

	assert.Equal(t, []string{
		"sudo mount -o loop,offset=272629760,sizelimit=1727370240 rpi.img /mnt/kdt",
		"sudo mount -o loop,offset=4194304,sizelimit=268435456 rpi.img /mnt/kdt/boot",
		"sudo umount /mnt/kdt/boot",
		"sudo umount /mnt/kdt",
	}, fake.Lines())
}

func TestMountDeviceSinglePartition(t *testing.T) {
	table := &Table{Unit: 512, First: Partition{Name: "/dev/sdb1", Offset: 1 << 20, Size: 1 << 30}}
	fake := runnertest.New()

	m, err := MountTable(context.Background(), fake, "/dev/sdb", Device, table, "/mnt/kdt")
	require.NoError(t, err)
	assert.Nil(t, m.Boot)
	assert.Equal(t, []string{"sudo mount /dev/sdb1 /mnt/kdt"}, fake.Lines())
}

func TestBootMountFailureUnmountsRoot(t *testing.T) {
	table, err := ParseFdisk("rpi.img", rpiImage)
	require.NoError(t, err)
	fake := runnertest.New().Fail("sudo mount -o loop,offset=4194304", "wrong fs type")

	_, err = MountTable(context.Background(), fake, "rpi.img", Image, table, "/mnt/kdt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boot partition")
	assert.Equal(t, "sudo umount /mnt/kdt", fake.Lines()[2])
}

func TestOpenReadsTable(t *testing.T) {
	img := filepath.Join(t.TempDir(), "rpi.img")
	require.NoError(t, os.WriteFile(img, []byte{0}, 0644))
	out := "Units: sectors of 1 * 512 = 512 bytes\n" + img + "1 2048 4096\n"
	fake := runnertest.New().Output("fdisk", out)

	m, err := Open(context.Background(), fake, img, "/mnt/kdt")
	require.NoError(t, err)
	assert.Equal(t, int64(2048*512), m.Root.Offset)

	cmd, ok := fake.Find("fdisk")
	require.True(t, ok)
	assert.False(t, cmd.Sudo)
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "disk.img")
	require.NoError(t, os.WriteFile(img, nil, 0644))

	assert.Equal(t, Device, Classify("/dev/sdz"))
	assert.Equal(t, Image, Classify(img))
	assert.Equal(t, Folder, Classify(dir))
	assert.Equal(t, Folder, Classify(filepath.Join(dir, "missing")))
}
