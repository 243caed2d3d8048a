package capability_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arkos-project/arkimage/internal/constants"
	"github.com/arkos-project/arkimage/internal/mocks"
	"github.com/arkos-project/arkimage/pkg/capability"
	diskfs "github.com/diskfs/go-diskfs"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"
)

func TestCapability(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "capability suite")
}

var _ = Describe("AllocateImage", func() {
	var dir string
	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("creates a zero filled file of the exact size", func() {
		p := filepath.Join(dir, "disk.img")
		Expect(capability.AllocateImage(p, 4*constants.MiB)).To(Succeed())
		info, err := os.Stat(p)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.Size()).To(Equal(int64(4 * constants.MiB)))
		data, err := os.ReadFile(p)
		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(Equal(make([]byte, 4*constants.MiB)))
	})
	It("replaces an existing image", func() {
		p := filepath.Join(dir, "disk.img")
		Expect(os.WriteFile(p, []byte("old content that must go"), 0o644)).To(Succeed())
		Expect(capability.AllocateImage(p, constants.MiB)).To(Succeed())
		data, err := os.ReadFile(p)
		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(Equal(make([]byte, constants.MiB)))
	})
	It("rejects non positive sizes", func() {
		Expect(capability.AllocateImage(filepath.Join(dir, "disk.img"), 0)).To(MatchError(constants.ErrInvalidSize))
		_, err := os.Stat(filepath.Join(dir, "disk.img"))
		Expect(err).To(MatchError(os.ErrNotExist))
	})
})

var _ = Describe("New", func() {
	It("picks the backend by name", func() {
		c, err := capability.New(constants.BackendDiskfs, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(c).To(BeAssignableToTypeOf(&capability.Diskfs{}))
		c, err = capability.New(constants.BackendHost, mocks.NewFakeRunner())
		Expect(err).ToNot(HaveOccurred())
		Expect(c).To(BeAssignableToTypeOf(&capability.Host{}))
		_, err = capability.New("floppy", nil)
		Expect(err).To(MatchError(constants.ErrUnknownBackend))
	})
})

var _ = Describe("Host", func() {
	var r *mocks.FakeRunner
	var h *capability.Host
	ctx := context.Background()

	BeforeEach(func() {
		r = mocks.NewFakeRunner()
		h = capability.NewHost(r)
		h.Delay = time.Millisecond
	})

	It("partitions with parted", func() {
		Expect(h.Partition(ctx, "/tmp/disk.img")).To(Succeed())
		Expect(r.Commands).To(Equal([][]string{
			{"parted", "-s", "/tmp/disk.img", "mklabel", "msdos"},
			{"parted", "-s", "/tmp/disk.img", "mkpart", "primary", "fat32", "1MiB", "100%"},
			{"parted", "-s", "/tmp/disk.img", "set", "1", "boot", "on"},
		}))
	})
	It("attaches with partition scanning", func() {
		r.Outputs["losetup"] = "/dev/loop3\n"
		dev, err := h.Attach(ctx, "/tmp/disk.img")
		Expect(err).ToNot(HaveOccurred())
		Expect(dev).To(Equal("/dev/loop3"))
		Expect(r.Commands[0]).To(Equal([]string{"losetup", "--find", "--show", "--partscan", "/tmp/disk.img"}))
	})
	It("names the next free device when attaching fails", func() {
		r.Errors["losetup --find"] = mocks.Injected("losetup")
		_, err := h.Attach(ctx, "/tmp/disk.img")
		Expect(err).To(MatchError(constants.ErrNoLoopDevice))
	})
	It("fails on empty losetup output", func() {
		_, err := h.Attach(ctx, "/tmp/disk.img")
		Expect(err).To(MatchError(constants.ErrNoLoopDevice))
	})
	It("retries detaching a busy device", func() {
		r.Errors["losetup -d"] = mocks.Injected("busy")
		err := h.Detach(ctx, "/dev/loop3")
		Expect(err).To(MatchError(mocks.ErrInjected))
		Expect(r.Commands).To(HaveLen(int(h.Attempts)))
	})
	It("formats with the given tool", func() {
		Expect(h.Format(ctx, "mkfs.vfat", "/dev/loop3p1")).To(Succeed())
		Expect(r.Commands[0]).To(Equal([]string{"mkfs.vfat", "-F", "32", "-n", constants.VolumeLabel, "/dev/loop3p1"}))
	})
	It("looks for partition nodes on its filesystem", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/dev/loop3p1": ""})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()
		h.Fs = fs
		h.Attempts = 2
		Expect(h.Exists("/dev/loop3p1")).To(BeTrue())
		Expect(h.Exists("/dev/loop4p1")).To(BeFalse())
	})
})

var _ = Describe("Diskfs", func() {
	var d *capability.Diskfs
	var img string
	ctx := context.Background()

	BeforeEach(func() {
		d = capability.NewDiskfs()
		img = filepath.Join(GinkgoT().TempDir(), "disk.img")
		Expect(d.Allocate(img, 64*constants.MiB)).To(Succeed())
	})

	It("hands out one attachment per image", func() {
		dev, err := d.Attach(ctx, img)
		Expect(err).ToNot(HaveOccurred())
		_, err = d.Attach(ctx, img)
		Expect(err).To(MatchError(constants.ErrAlreadyAttached))
		Expect(d.Detach(ctx, dev)).To(Succeed())
		Expect(d.Detach(ctx, dev)).To(MatchError(constants.ErrNotAttached))
		_, err = d.Attach(ctx, img)
		Expect(err).ToNot(HaveOccurred())
	})
	It("only exposes the partition once there is a table", func() {
		dev, err := d.Attach(ctx, img)
		Expect(err).ToNot(HaveOccurred())
		Expect(d.Exists(dev)).To(BeTrue())
		Expect(d.Exists(dev + constants.PartitionSuffix)).To(BeFalse())
		Expect(d.Partition(ctx, img)).To(Succeed())
		Expect(d.Exists(dev + constants.PartitionSuffix)).To(BeTrue())
	})
	It("refuses to mount an unformatted volume", func() {
		dev, err := d.Attach(ctx, img)
		Expect(err).ToNot(HaveOccurred())
		Expect(d.Mount(ctx, dev, GinkgoT().TempDir())).ToNot(Succeed())
	})
	It("refuses unknown formatting tools", func() {
		dev, err := d.Attach(ctx, img)
		Expect(err).ToNot(HaveOccurred())
		Expect(d.Format(ctx, "mkfs.ext4", dev)).To(MatchError(constants.ErrUnsupportedFormat))
	})
	It("writes the mounted directory into the volume on unmount", func() {
		Expect(d.Partition(ctx, img)).To(Succeed())
		dev, err := d.Attach(ctx, img)
		Expect(err).ToNot(HaveOccurred())
		part := dev + constants.PartitionSuffix
		Expect(d.Format(ctx, constants.PrimaryFormatTool, part)).To(Succeed())

		mnt := GinkgoT().TempDir()
		Expect(d.Mount(ctx, part, mnt)).To(Succeed())
		Expect(d.Mount(ctx, part, mnt)).To(MatchError(constants.ErrAlreadyMounted))
		Expect(os.MkdirAll(filepath.Join(mnt, "boot", "grub"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(mnt, "boot", "grub", "grub.cfg"), []byte("set timeout=5\n"), 0o644)).To(Succeed())
		Expect(d.Unmount(ctx, mnt)).To(Succeed())
		Expect(d.Unmount(ctx, mnt)).ToNot(Succeed())
		Expect(d.Detach(ctx, dev)).To(Succeed())

		dsk, err := diskfs.Open(img)
		Expect(err).ToNot(HaveOccurred())
		defer dsk.Close()
		fat, err := dsk.GetFilesystem(1)
		Expect(err).ToNot(HaveOccurred())
		f, err := fat.OpenFile("/boot/grub/grub.cfg", os.O_RDONLY)
		Expect(err).ToNot(HaveOccurred())
		data, err := io.ReadAll(f)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("set timeout=5\n"))
	})
	It("fails to attach a missing image", func() {
		_, err := d.Attach(ctx, filepath.Join(GinkgoT().TempDir(), "nope.img"))
		Expect(errors.Is(err, constants.ErrNoLoopDevice)).To(BeTrue())
	})
})
