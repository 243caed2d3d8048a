package initramfs_test

import (
	"io"
	"testing"

	"github.com/arkos-project/arkimage/internal/constants"
	"github.com/arkos-project/arkimage/pkg/initramfs"
	"github.com/arkos-project/arkimage/pkg/schema"
	"github.com/klauspost/compress/zip"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
)

func TestInitramfs(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "initramfs suite")
}

var initContent = []byte("\x7fELF init program with some bytes to compress compress compress")

var _ = Describe("Package", func() {
	var fs vfs.FS
	var cleanup func()

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/build/init.bin": string(initContent),
			"/build/sh":       "#!/bin/sh",
			"/build/lib":      &vfst.Dir{Perm: 0o755},
			"/etc/motd":       "hello",
			"/out":            &vfst.Dir{Perm: 0o755},
		})
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		cleanup()
	})

	readMember := func(name string) []byte {
		raw, err := fs.RawPath("/out/initramfs.zip")
		Expect(err).ToNot(HaveOccurred())
		zr, err := zip.OpenReader(raw)
		Expect(err).ToNot(HaveOccurred())
		defer zr.Close()
		for _, f := range zr.File {
			if f.Name == name {
				rc, err := f.Open()
				Expect(err).ToNot(HaveOccurred())
				defer rc.Close()
				data, err := io.ReadAll(rc)
				Expect(err).ToNot(HaveOccurred())
				return data
			}
		}
		Fail("no member " + name)
		return nil
	}

	It("stores init first and byte identical", func() {
		res, err := initramfs.Package(fs, "/build/init.bin", "/out/initramfs.zip", nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Entries).To(HaveLen(1))
		Expect(res.Entries[0].Name).To(Equal(constants.InitMember))
		Expect(res.Entries[0].Size).To(Equal(uint64(len(initContent))))
		Expect(res.Entries[0].Method).To(Equal("deflated"))
		Expect(readMember("init")).To(Equal(initContent))
	})
	It("adds extras with explicit and default names", func() {
		res, err := initramfs.Package(fs, "/build/init.bin", "/out/initramfs.zip", []schema.Mapping{
			{Source: "/build/sh", Target: "/bin/sh"},
			{Source: "/etc/motd", Target: "motd"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Warnings).To(BeEmpty())
		var names []string
		for _, e := range res.Entries {
			names = append(names, e.Name)
		}
		Expect(names).To(Equal([]string{"init", "bin/sh", "motd"}))
		Expect(string(readMember("bin/sh"))).To(Equal("#!/bin/sh"))
		Expect(res.Listing()).To(ContainSubstring("bin/sh"))
	})
	It("skips missing extras, duplicates and a second init", func() {
		res, err := initramfs.Package(fs, "/build/init.bin", "/out/initramfs.zip", []schema.Mapping{
			{Source: "/build/missing", Target: "missing"},
			{Source: "/build/sh", Target: "/init"},
			{Source: "/etc/motd", Target: "motd"},
			{Source: "/build/sh", Target: "motd"},
			{Source: "/build/sh", Target: "/"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Warnings).To(HaveLen(4))
		Expect(res.Entries).To(HaveLen(2))
		Expect(readMember("init")).To(Equal(initContent))
		Expect(string(readMember("motd"))).To(Equal("hello"))
	})
	It("skips extras that are not regular files and keeps going", func() {
		res, err := initramfs.Package(fs, "/build/init.bin", "/out/initramfs.zip", []schema.Mapping{
			{Source: "/build/lib", Target: "lib"},
			{Source: "/etc/motd", Target: "motd"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Warnings).To(ConsistOf(ContainSubstring("/build/lib")))
		Expect(res.Entries).To(HaveLen(2))
		Expect(res.Entries[1].Name).To(Equal("motd"))
		Expect(string(readMember("motd"))).To(Equal("hello"))
	})
	It("does not take a directory as init", func() {
		_, err := initramfs.Package(fs, "/build/lib", "/out/initramfs.zip", nil)
		Expect(err).To(MatchError(constants.ErrInitNotFound))
	})
	It("fails without an init binary", func() {
		_, err := initramfs.Package(fs, "/build/nope", "/out/initramfs.zip", nil)
		Expect(err).To(MatchError(constants.ErrInitNotFound))
		_, err = fs.Stat("/out/initramfs.zip")
		Expect(err).To(HaveOccurred())
	})
})
