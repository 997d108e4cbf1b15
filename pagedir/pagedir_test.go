package pagedir_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmcore/pagedir"
)

var _ = Describe("Directory", func() {
	var dir *pagedir.Directory

	BeforeEach(func() {
		dir = pagedir.New(1)
	})

	It("should map and look up pages", func() {
		dir.SetPage(0x1000, 0x200000, true)

		entry, found := dir.Lookup(0x1234)

		Expect(found).To(BeTrue())
		Expect(entry.PAddr).To(Equal(uint64(0x200000)))
		Expect(entry.Present).To(BeTrue())
		Expect(entry.Accessed).To(BeFalse())
		Expect(entry.Dirty).To(BeFalse())
	})

	It("should panic when mapping a present page", func() {
		dir.SetPage(0x1000, 0x200000, true)

		Expect(func() { dir.SetPage(0x1000, 0x201000, true) }).To(Panic())
	})

	It("should panic on unaligned pages", func() {
		Expect(func() { dir.SetPage(0x1001, 0x200000, true) }).To(Panic())
	})

	It("should allow remapping a cleared page with fresh bits", func() {
		dir.SetPage(0x1000, 0x200000, true)
		dir.SetDirty(0x1000, true)
		dir.ClearPage(0x1000)

		Expect(dir.IsDirty(0x1000)).To(BeTrue())

		dir.SetPage(0x1000, 0x201000, false)

		entry, _ := dir.Lookup(0x1000)
		Expect(entry.PAddr).To(Equal(uint64(0x201000)))
		Expect(entry.Dirty).To(BeFalse())
		Expect(dir.Entries()).To(HaveLen(1))
	})

	It("should set accessed and dirty bits on access", func() {
		dir.SetPage(0x1000, 0x200000, true)

		var got uint64
		res := dir.Access(0x1010, false, func(paddr uint64) { got = paddr })

		Expect(res).To(Equal(pagedir.AccessOK))
		Expect(got).To(Equal(uint64(0x200000)))
		Expect(dir.IsAccessed(0x1000)).To(BeTrue())
		Expect(dir.IsDirty(0x1000)).To(BeFalse())

		res = dir.Access(0x1010, true, func(uint64) {})

		Expect(res).To(Equal(pagedir.AccessOK))
		Expect(dir.IsDirty(0x1000)).To(BeTrue())
	})

	It("should report missing and read-only pages", func() {
		dir.SetPage(0x1000, 0x200000, false)

		called := false
		fn := func(uint64) { called = true }

		Expect(dir.Access(0x3000, false, fn)).To(Equal(pagedir.AccessNotPresent))
		Expect(dir.Access(0x1000, true, fn)).To(Equal(pagedir.AccessReadOnly))
		Expect(called).To(BeFalse())

		dir.ClearPage(0x1000)
		Expect(dir.Access(0x1000, false, fn)).To(Equal(pagedir.AccessNotPresent))
	})

	It("should clear a page only if it maps the given frame", func() {
		dir.SetPage(0x1000, 0x200000, true)

		Expect(dir.ClearFrame(0x1000, 0x201000)).To(BeFalse())
		Expect(dir.NumPresent()).To(Equal(1))

		Expect(dir.ClearFrame(0x1000, 0x200000)).To(BeTrue())
		Expect(dir.NumPresent()).To(Equal(0))

		Expect(dir.ClearFrame(0x1000, 0x200000)).To(BeFalse())
		Expect(dir.ClearFrame(0x5000, 0x200000)).To(BeFalse())
	})

	It("should count present pages and destroy", func() {
		dir.SetPage(0x1000, 0x200000, true)
		dir.SetPage(0x2000, 0x201000, true)
		dir.ClearPage(0x1000)

		Expect(dir.NumPresent()).To(Equal(1))

		dir.Remove(0x2000)
		Expect(dir.Entries()).To(HaveLen(1))

		dir.Destroy()
		Expect(dir.Entries()).To(BeEmpty())
	})
})
