package vmm

import (
	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
)

// ErrInvalidMapping is returned when looking up a virtual address that
// is not currently mapped.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

// PageTableEntryFlag describes a flag that can be applied to a page
// table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is resident in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code may access the page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set,
	// write-back caching otherwise.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents the page from being cached.
	FlagDoNotCache

	// FlagAccessed is set by the CPU the first time the page is read.
	FlagAccessed

	// FlagDirty is set by the CPU the first time the page is written.
	FlagDirty

	// FlagHugePage marks a large-page mapping instead of a base page.
	FlagHugePage

	// FlagGlobal prevents the TLB entry from being flushed on a page
	// directory switch.
	FlagGlobal

	// FlagCopyOnWrite implements copy-on-write semantics. Mutually
	// exclusive with FlagRW: a COW page is always mapped read-only and
	// the fault handler installs FlagRW once it has duplicated the
	// frame.
	FlagCopyOnWrite

	// FlagNoExecute marks the page as non-executable.
	FlagNoExecute
)

// HasFlags returns true if every bit in flags is set. It lets callers
// outside this package that only hold a PageTableEntryFlag value (e.g.
// from LookupFlags) test it the same way pageTableEntry.HasFlags does.
func (f PageTableEntryFlag) HasFlags(flags PageTableEntryFlag) bool {
	return (f & flags) == flags
}

// pageTableEntry describes a single page table entry: a physical frame
// address plus a set of flags. The PageTableEntryFlag bits above are
// stored in the entry as they are, with no translation through
// arch.Traits. Bits 0-8 coincide with the x86 hardware layout;
// FlagCopyOnWrite (bit 9) and FlagNoExecute (bit 10) sit in
// software-available bits, so FlagNoExecute is not the hardware NX bit.
type pageTableEntry uintptr

// HasFlags returns true if every bit in flags is set on this entry.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if at least one bit in flags is set on this
// entry.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the given flags on this entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) | uintptr(flags))
}

// ClearFlags clears the given flags on this entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical frame this entry points to.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uintptr(pte) & ptePhysPageMask) >> mem.PageShift)
}

// SetFrame updates the entry to point at frame, leaving its flags
// untouched.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = pageTableEntry((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// pteForAddress walks the active page tables and returns the leaf
// entry that maps virtAddr, or ErrInvalidMapping if no such mapping
// exists.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}
