package vmm

import (
	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
)

// earlyReserveLastUsed tracks the last reserved virtual address and is
// decreased after each reservation. It starts at tempMappingAddr,
// which marks the end of the region available for early reservations.
var earlyReserveLastUsed = tempMappingAddr

var errEarlyReserveNoSpace = &kernel.Error{Module: "early_reserve", Message: "remaining virtual address space not large enough to satisfy reservation request"}

// EarlyReserveRegion reserves a page-aligned contiguous virtual memory
// region of the requested size (rounded up to a page boundary) and
// returns its starting virtual address. It allocates downward from
// the end of the kernel address space and is intended for use only
// during early kernel initialization, before a general-purpose
// virtual memory allocator exists.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	rounded := uintptr((size + (mem.PageSize - 1)) &^ (mem.PageSize - 1))

	if rounded > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= rounded
	return earlyReserveLastUsed, nil
}
