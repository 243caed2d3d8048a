package grub_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arkos-project/arkimage/pkg/grub"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestGrub(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "grub config suite")
}

var _ = Describe("grub config", func() {
	It("boots the staged kernel through multiboot", func() {
		out := grub.Emit()
		Expect(out).To(ContainSubstring("multiboot /bzImage"))
		Expect(out).To(ContainSubstring("set timeout=5"))
		Expect(out).To(ContainSubstring("set default=0"))
		Expect(out).To(ContainSubstring("menuentry 'Ark OS' {"))
	})
	It("renders a custom kernel name and title", func() {
		c := grub.DefaultConfig()
		c.Kernel = "kernel.elf"
		c.Title = "Test"
		out, err := c.Render()
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(ContainSubstring("multiboot /kernel.elf"))
		Expect(out).To(ContainSubstring("menuentry 'Test'"))
	})
	It("writes grub.cfg into a directory", func() {
		dir := GinkgoT().TempDir()
		p, err := grub.WriteTo(filepath.Join(dir, "out"), grub.DefaultConfig())
		Expect(err).ToNot(HaveOccurred())
		Expect(p).To(Equal(filepath.Join(dir, "out", "grub.cfg")))
		data, err := os.ReadFile(p)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal(grub.Emit()))
	})
})
