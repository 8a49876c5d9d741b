//go:build arm64

package vmm

const (
	// pageLevels is the number of page table levels walked to resolve a
	// virtual address on arm64 with 4KB granule, 48-bit VAs (L0 -> L1 ->
	// L2 -> L3).
	pageLevels = 4

	// ptePhysPageMask extracts the output address encoded in a stage-1
	// descriptor; bits 12-47 hold it for a 48-bit physical address
	// range.
	ptePhysPageMask = uintptr(0x0000fffffffff000)

	// tempMappingAddr is a reserved virtual address used for temporary
	// mappings. It decodes to page level indices 510, 511, 511, 511,
	// the same recursive-mapping convention used on amd64.
	tempMappingAddr = uintptr(0xffffff7ffffff000)
)

var (
	// pdtVirtualAddr exploits a recursive mapping installed by this
	// kernel in the last entry of the top-level table, analogous to the
	// amd64 trick: stage-1 table descriptors support pointing back at
	// themselves just like x86 page directory entries do.
	pdtVirtualAddr = ^uintptr(0) &^ ((1 << 12) - 1)

	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)
