package vmm

import (
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
)

// ReservedZeroedFrame is a special zero-cleared frame allocated by Init.
// Mapping it together with FlagCopyOnWrite defers the actual physical
// allocation backing a page until the page is written to:
//
//	mapFlags := vmm.FlagPresent | vmm.FlagCopyOnWrite
//	if err := vmm.Map(page, vmm.ReservedZeroedFrame, mapFlags, allocFn); err != nil {
//		return err
//	}
//
// A write to such a page triggers a page fault, which allocates a fresh
// frame, copies the blank contents into it and installs it in place with
// RW permissions.
var ReservedZeroedFrame pmm.Frame

var (
	// protectReservedZeroedPage is set to true once ReservedZeroedFrame
	// has been initialized, to prevent it from ever being mapped RW.
	protectReservedZeroedPage bool

	// nextAddrFn is used by used by tests to override the nextTableAddr
	// calculations used by Map. When compiling the kernel this function
	// will be automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = flushTLBEntry

	errNoHugePageSupport           = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errAttemptToRWMapReservedFrame = &kernel.Error{Module: "vmm", Message: "reserved blank frame cannot be mapped with a RW flag"}
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// FrameFreeFn is a function that returns a physical frame to the
// allocator it came from.
type FrameFreeFn func(pmm.Frame) *kernel.Error

// Map establishes a mapping between a virtual page and a physical memory frame
// using the currently active page directory table. Calls to Map will use the
// supplied physical frame allocator to initialize missing page tables at each
// paging level supported by the MMU.
//
// Attempts to map ReservedZeroedFrame with a RW flag will result in an error.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag, allocFn FrameAllocatorFn) *kernel.Error {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame && (flags&FlagRW) != 0 {
		return errAttemptToRWMapReservedFrame
	}

	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it map it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = allocFn()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			// The next pte entry becomes available but we need to
			// make sure that the new page is properly cleared
			nextTableAddr := (uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1])
			mem.Memset(nextAddrFn(nextTableAddr), 0, mem.PageSize)
		}

		return true
	})

	return err
}

// MapTemporary establishes a temporary RW mapping of a physical memory frame
// to a fixed virtual address overwriting any previous mapping. The temporary
// mapping mechanism is primarily used by the kernel to access and initialize
// inactive page tables.
//
// Attempts to map ReservedZeroedFrame will result in an error.
func MapTemporary(frame pmm.Frame, allocFn FrameAllocatorFn) (Page, *kernel.Error) {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame {
		return 0, errAttemptToRWMapReservedFrame
	}

	if err := Map(PageFromAddress(tempMappingAddr), frame, FlagPresent|FlagRW, allocFn); err != nil {
		return 0, err
	}

	return PageFromAddress(tempMappingAddr), nil
}

// Unmap removes a mapping previously installed via a call to Map or
// MapTemporary and returns the physical frame that was mapped there,
// leaving the decision of whether to free it to the caller (a forked
// or copy-on-write address space may still share the frame with
// another task). Any intermediate page table left with no present
// entries as a result is freed immediately through freeFrameFn, the
// same frame-free hook DestroyAddressSpace uses.
func Unmap(page Page) (pmm.Frame, *kernel.Error) {
	var (
		err     *kernel.Error
		frame   pmm.Frame
		parents [pageLevels - 1]*pageTableEntry
	)

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to record
		// the frame it pointed to, set the page as non-present and
		// flush its TLB entry.
		if pteLevel == pageLevels-1 {
			if !pte.HasFlags(FlagPresent) {
				err = ErrInvalidMapping
				return false
			}
			frame = pte.Frame()
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		// Next table is not present; this is an invalid mapping
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		parents[pteLevel] = pte
		return true
	})

	if err != nil {
		return 0, err
	}

	if err = freeEmptyTables(page.Address(), parents); err != nil {
		return frame, err
	}
	return frame, nil
}

// tableVirtAddr computes the recursively-mapped virtual address of the
// page table that resolves virtAddr at level, using the same formula
// walk uses to step from one level to the next. Deriving it from
// virtAddr directly (rather than from a level's pte, whose address
// ptePtrFn is free to translate in tests) keeps it correct regardless
// of how ptePtrFn resolves entries.
func tableVirtAddr(virtAddr uintptr, level uint8) uintptr {
	tableAddr := uintptr(pdtVirtualAddr)
	for l := uint8(0); l < level; l++ {
		entryIndex := (virtAddr >> pageLevelShifts[l]) & ((1 << pageLevelBits[l]) - 1)
		entryAddr := tableAddr + (entryIndex << mem.PointerShift)
		tableAddr = entryAddr << pageLevelBits[l]
	}
	return tableAddr
}

// freeEmptyTables walks the intermediate table entries Unmap collected
// on its way down, deepest first, freeing any table now left with no
// present entries and clearing the parent entry that pointed at it. It
// stops at the first table that still has a present entry, since every
// table above that one is still in use too.
func freeEmptyTables(virtAddr uintptr, parents [pageLevels - 1]*pageTableEntry) *kernel.Error {
	for level := int(pageLevels) - 2; level >= 0; level-- {
		pte := parents[level]
		if pte == nil {
			return nil
		}

		childTableAddr := tableVirtAddr(virtAddr, uint8(level+1))
		entryCount := mem.PageSize >> mem.PointerShift

		empty := true
		for i := mem.Size(0); i < entryCount; i++ {
			entry := (*pageTableEntry)(ptePtrFn(childTableAddr + uintptr(i)<<mem.PointerShift))
			if entry.HasFlags(FlagPresent) {
				empty = false
				break
			}
		}
		if !empty {
			return nil
		}

		childFrame := pte.Frame()
		pte.ClearFlags(FlagPresent)
		flushTLBEntryFn(childTableAddr)
		if freeFrameFn != nil {
			if err := freeFrameFn(childFrame); err != nil {
				return err
			}
		}
	}
	return nil
}
