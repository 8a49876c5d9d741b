package vmm

import "github.com/castorworks/CastorOS-sub004/kernel"

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	physAddr := pte.Frame().Address() + (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))

	return physAddr, nil
}

// LookupFlags returns the protection flags of the leaf page table entry
// mapping virtAddr, or ErrInvalidMapping if virtAddr isn't mapped. It
// lets callers that need more than presence (e.g. syscall argument
// validation checking for FlagUserAccessible/FlagRW) reuse the same
// page-table walk Translate and Protect are built on instead of
// duplicating it.
func LookupFlags(virtAddr uintptr) (PageTableEntryFlag, *kernel.Error) {
	pte, err := pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}
	return PageTableEntryFlag(uintptr(*pte) &^ ptePhysPageMask), nil
}
