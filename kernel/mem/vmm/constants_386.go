//go:build 386

package vmm

const (
	// pageLevels is the number of page table levels walked to resolve a
	// virtual address on i686 (PD -> PT).
	pageLevels = 2

	// ptePhysPageMask extracts the physical frame address encoded in a
	// page table entry; bits 12-31 hold it on this architecture.
	ptePhysPageMask = uintptr(0xfffff000)

	// tempMappingAddr is a reserved virtual address used for temporary
	// mappings. It decodes to page level indices 1022, 1023.
	tempMappingAddr = uintptr(0xffbff000)
)

var (
	// pdtVirtualAddr exploits the recursive mapping installed in the
	// last entry of the page directory, the same trick used on amd64
	// scaled down to two page levels.
	pdtVirtualAddr = ^uintptr(0) &^ ((1 << 12) - 1)

	pageLevelBits = [pageLevels]uint8{10, 10}

	pageLevelShifts = [pageLevels]uint8{22, 12}
)
