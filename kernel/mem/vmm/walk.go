package vmm

import (
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel/mem"
)

// ptePtrFn returns a pointer to the page table entry at entryAddr. It
// is overridden by tests so walk can be exercised without a real MMU;
// the kernel build inlines it away.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// pageTableWalker is invoked by walk once per page table level
// encountered while resolving a virtual address. Returning false
// aborts the walk.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for virtAddr, invoking walkFn with
// the entry found at each level. It relies on the recursive mapping
// installed in the last entry of the top-level table (see
// pdtVirtualAddr) to dereference each level's table as ordinary
// memory, without needing to know the table's physical address.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
	)

	for level, tableAddr = uint8(0), pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + (entryIndex << mem.PointerShift)

		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		entryAddr <<= pageLevelBits[level]
	}
}
