package pmm

import (
	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/bootinfo"
	"github.com/castorworks/CastorOS-sub004/kernel/kfmt/early"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
)

// EarlyAllocator points to a static instance of the boot memory
// allocator which bootstraps frame allocation before BitmapAllocator
// has a heap to place its bookkeeping in.
var EarlyAllocator BootMemAllocator

var (
	errBootAllocUnsupportedPageSize = &kernel.Error{Module: "boot_mem_alloc", Message: "allocator only supports allocation requests of order(0)"}
	errBootAllocOutOfMemory         = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// BootMemAllocator is a bump allocator that hands out frames directly
// from the bootloader-reported memory map. It never frees a frame:
// once BitmapAllocator takes over, every frame it handed out is
// replayed as reserved so the two allocators never disagree about
// what is free.
type BootMemAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocIndex tracks the last allocated frame index.
	lastAllocIndex int64
}

// Init resets the allocator state and prints the system memory map.
func (alloc *BootMemAllocator) Init() {
	alloc.lastAllocIndex = -1
	alloc.allocCount = 0

	early.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree mem.Size
	bootinfo.VisitMemoryMap(func(region *bootinfo.MemoryMapEntry) bool {
		early.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %d\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type)

		if region.Type == bootinfo.RegionAvailable {
			totalFree += mem.Size(region.Length)
		}
		return true
	})
	early.Printf("[boot_mem_alloc] free memory: %dKb\n", uint64(totalFree/mem.Kb))
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// AllocFrame scans the bootloader-reported memory regions and reserves
// the next available free frame after the last one it handed out.
//
// AllocFrame returns an error if no more memory is available or if
// order is greater than 0; the early allocator only ever deals in
// base pages.
func (alloc *BootMemAllocator) AllocFrame(order mem.PageOrder) (Frame, *kernel.Error) {
	if order > 0 {
		return InvalidFrame, errBootAllocUnsupportedPageSize
	}

	var (
		foundPageIndex                           int64 = -1
		regionStartPageIndex, regionEndPageIndex int64
	)
	bootinfo.VisitMemoryMap(func(region *bootinfo.MemoryMapEntry) bool {
		if region.Type != bootinfo.RegionAvailable {
			return true
		}

		// Align region start address to a page boundary and find the
		// start and end page indices for the region.
		regionStartPageIndex = int64(((mem.Size(region.PhysAddress) + (mem.PageSize - 1)) & ^(mem.PageSize - 1)) >> mem.PageShift)
		regionEndPageIndex = int64(((mem.Size(region.PhysAddress+region.Length) - (mem.PageSize - 1)) & ^(mem.PageSize - 1)) >> mem.PageShift)

		// Ignore regions that have been fully consumed already.
		if alloc.lastAllocIndex >= regionEndPageIndex {
			return true
		}

		// The last allocated index either points into a previous
		// region (pick the start of this one) or into this region
		// (pick the next free page in it).
		if alloc.lastAllocIndex < regionStartPageIndex {
			foundPageIndex = regionStartPageIndex
		} else {
			foundPageIndex = alloc.lastAllocIndex + 1
		}
		return false
	})

	if foundPageIndex == -1 {
		return InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	alloc.lastAllocIndex = foundPageIndex

	return Frame(foundPageIndex), nil
}
