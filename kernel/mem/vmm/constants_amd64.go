//go:build amd64

package vmm

const (
	// pageLevels is the number of page table levels walked to resolve a
	// virtual address on amd64 (PML4 -> PDPT -> PD -> PT).
	pageLevels = 4

	// ptePhysPageMask extracts the physical frame address encoded in a
	// page table entry; bits 12-51 hold it on this architecture.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// tempMappingAddr is a reserved virtual address used for temporary
	// mappings (e.g. bootstrapping an inactive PDT). It decodes to page
	// level indices 510, 511, 511, 511.
	tempMappingAddr = uintptr(0xffffff7ffffff000)
)

var (
	// pdtVirtualAddr exploits the recursive mapping installed in the
	// last entry of the top-level table: setting every page-level index
	// to its maximum value makes the MMU keep following that entry back
	// into the table itself, exposing it at this virtual address.
	pdtVirtualAddr = ^uintptr(0) &^ ((1 << 12) - 1)

	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)
