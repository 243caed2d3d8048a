package schema_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arkos-project/arkimage/pkg/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSchema(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "schema suite")
}

var _ = Describe("schema", func() {
	Context("LoopAttachment", func() {
		It("targets the partition when there is one", func() {
			l := &schema.LoopAttachment{Device: "/dev/loop0", Partition: "/dev/loop0p1"}
			Expect(l.Target()).To(Equal("/dev/loop0p1"))
			l.Partition = ""
			Expect(l.Target()).To(Equal("/dev/loop0"))
		})
	})
	Context("StagedTree", func() {
		It("lists nested entries with sizes", func() {
			t := &schema.StagedTree{
				Dirs: []string{"/usr", "/boot/grub", "/bin", "/boot"},
				Files: []schema.StagedFile{
					{Path: "/bzImage", Size: 10},
					{Path: "/bin/init.bin", Size: 3},
					{Path: "/boot/grub/grub.cfg", Size: 150},
				},
			}
			Expect(t.String()).To(Equal(`  /
    bin/
      init.bin (3 bytes)
    boot/
      grub/
        grub.cfg (150 bytes)
    bzImage (10 bytes)
    usr/
`))
			Expect(t.HasFile("/bin/init.bin")).To(BeTrue())
			Expect(t.HasFile("/bin")).To(BeFalse())
		})
	})
	Context("Report", func() {
		It("has no error with only warnings", func() {
			r := &schema.Report{}
			r.Warn("partition %s", "failed")
			Expect(r.Warnings).To(ConsistOf("partition failed"))
			Expect(r.Err()).ToNot(HaveOccurred())
		})
		It("aggregates failures", func() {
			r := &schema.Report{}
			e1, e2 := errors.New("mount"), errors.New("unmount")
			r.Fail(nil)
			r.Fail(e1)
			r.Fail(e2)
			Expect(r.Err()).To(MatchError(e1))
			Expect(r.Err()).To(MatchError(e2))
		})
	})
	Context("LoadArtifactSpec", func() {
		It("accepts both mapping forms", func() {
			dir := GinkgoT().TempDir()
			p := filepath.Join(dir, "manifest.yaml")
			Expect(os.WriteFile(p, []byte(`
kernel: build/bzImage
init: build/init.bin
extras:
  - bin/sh:bin/sh
  - /etc/motd
  - source: files/hello.txt
    target: /etc/hello.txt
  - source: files/bare
`), 0o644)).To(Succeed())
			spec, err := schema.LoadArtifactSpec(p)
			Expect(err).ToNot(HaveOccurred())
			Expect(spec.Kernel).To(Equal("build/bzImage"))
			Expect(spec.Init).To(Equal("build/init.bin"))
			Expect(spec.Extras).To(Equal([]schema.Mapping{
				{Source: "bin/sh", Target: "bin/sh"},
				{Source: "/etc/motd", Target: "motd"},
				{Source: "files/hello.txt", Target: "/etc/hello.txt"},
				{Source: "files/bare", Target: "bare"},
			}))
		})
		It("rejects mappings without source", func() {
			dir := GinkgoT().TempDir()
			p := filepath.Join(dir, "manifest.yaml")
			Expect(os.WriteFile(p, []byte("extras:\n  - target: /x\n"), 0o644)).To(Succeed())
			_, err := schema.LoadArtifactSpec(p)
			Expect(err).To(HaveOccurred())
		})
	})
})
