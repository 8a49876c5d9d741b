// Package heap implements a byte-granularity allocator on top of a
// single eagerly-mapped virtual range. Blocks form an address-ordered
// doubly-linked list so that freeing a block can coalesce with either
// physical neighbor; KMalloc performs a first-fit scan of that list.
package heap

import (
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/kfmt/early"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/vmm"
)

var (
	mapFn           = vmm.Map
	reserveRegionFn = vmm.EarlyReserveRegion

	heapStart, heapEnd uintptr
	blockList          *blockHeader

	errHeapNotInitialized = &kernel.Error{Module: "heap", Message: "heap has not been initialized"}
	errZeroSizeRequest    = &kernel.Error{Module: "heap", Message: "allocation size must be greater than zero"}
	errOutOfMemory        = &kernel.Error{Module: "heap", Message: "heap exhausted: no block satisfies the request"}
	errNotHeapPointer     = &kernel.Error{Module: "heap", Message: "pointer does not belong to this heap"}
	errDoubleFree         = &kernel.Error{Module: "heap", Message: "attempted to free a block that is already free"}
)

const (
	headerSize   = unsafe.Sizeof(blockHeader{})
	ptrSize      = unsafe.Sizeof(uintptr(0))
	minSplitSize = mem.Size(2 * headerSize)
)

// blockHeader precedes every block, allocated or free, placed directly
// in heap memory. next/prev thread all blocks together in address
// order so a freed block can check both physical neighbors for
// coalescing without scanning the whole heap.
type blockHeader struct {
	next, prev *blockHeader
	size       mem.Size
	free       bool
}

func headerAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

func addrOf(b *blockHeader) uintptr {
	return uintptr(unsafe.Pointer(b))
}

// Init reserves a virtual range of the requested size, eagerly maps it
// using allocFn for backing frames, and seeds it with a single free
// block spanning the whole range.
func Init(size mem.Size, allocFn vmm.FrameAllocatorFn) *kernel.Error {
	pageCount := size.Pages()
	regionSize := mem.Size(pageCount) * mem.PageSize

	regionStart, err := reserveRegionFn(regionSize)
	if err != nil {
		return err
	}

	mapFlags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
	page := vmm.PageFromAddress(regionStart)
	for i := uint32(0); i < pageCount; i, page = i+1, page+1 {
		frame, ferr := allocFn()
		if ferr != nil {
			return ferr
		}
		if err = mapFn(page, frame, mapFlags, allocFn); err != nil {
			return err
		}
	}

	heapStart = regionStart
	heapEnd = regionStart + uintptr(regionSize)

	blockList = headerAt(heapStart)
	*blockList = blockHeader{size: regionSize, free: true}

	early.Printf("[heap] %d bytes available at 0x%x\n", uint64(regionSize), heapStart)
	return nil
}

// alignUp rounds addr up to the next multiple of align. align must be
// a power of two; align == 0 is treated as 1 (no alignment).
func alignUp(addr uintptr, align uintptr) uintptr {
	if align <= 1 {
		return addr
	}
	return (addr + align - 1) &^ (align - 1)
}

// userAddrFor computes the address that would be returned to the
// caller if size bytes aligned to align were carved out of a block
// starting at blockAddr, and the total number of bytes (including the
// header and any alignment padding) that the block must supply.
func userAddrFor(blockAddr uintptr, size mem.Size, align uintptr) (userAddr uintptr, needed mem.Size) {
	dataStart := blockAddr + uintptr(headerSize)
	userAddr = alignUp(dataStart+ptrSize, align)
	needed = mem.Size(userAddr+uintptr(size)-blockAddr)
	return userAddr, needed
}

// KMalloc returns the address of a freshly carved block of at least
// size bytes whose start address is a multiple of align (align == 0 or
// 1 requests no alignment). The search is first-fit over blocks in
// address order.
func KMalloc(size mem.Size, align uintptr) (uintptr, *kernel.Error) {
	if blockList == nil {
		return 0, errHeapNotInitialized
	}
	if size == 0 {
		return 0, errZeroSizeRequest
	}

	for b := blockList; b != nil; b = b.next {
		if !b.free {
			continue
		}

		blockAddr := addrOf(b)
		userAddr, needed := userAddrFor(blockAddr, size, align)
		if needed > b.size {
			continue
		}

		if remaining := b.size - needed; remaining >= minSplitSize {
			newBlock := headerAt(blockAddr + uintptr(needed))
			*newBlock = blockHeader{
				next: b.next,
				prev: b,
				size: remaining,
				free: true,
			}
			if newBlock.next != nil {
				newBlock.next.prev = newBlock
			}
			b.next = newBlock
			b.size = needed
		}

		b.free = false
		*(*uintptr)(unsafe.Pointer(userAddr - ptrSize)) = blockAddr

		return userAddr, nil
	}

	return 0, errOutOfMemory
}

// headerForPointer recovers the block header for a pointer previously
// returned by KMalloc. Every allocation records a back-pointer to its
// block header immediately before the returned address, whether or
// not alignment padding was actually needed, so recovery never has to
// guess which layout a given pointer used.
func headerForPointer(ptr uintptr) (*blockHeader, *kernel.Error) {
	if ptr < heapStart+uintptr(headerSize)+ptrSize || ptr >= heapEnd {
		return nil, errNotHeapPointer
	}

	backPointer := *(*uintptr)(unsafe.Pointer(ptr - ptrSize))
	if backPointer < heapStart || backPointer >= heapEnd {
		return nil, errNotHeapPointer
	}

	return headerAt(backPointer), nil
}

// KFree releases a block previously returned by KMalloc, coalescing it
// with either physical neighbor if they are also free.
func KFree(ptr uintptr) *kernel.Error {
	if blockList == nil {
		return errHeapNotInitialized
	}

	b, err := headerForPointer(ptr)
	if err != nil {
		return err
	}
	if b.free {
		return errDoubleFree
	}

	b.free = true

	if b.prev != nil && b.prev.free {
		prev := b.prev
		prev.size += b.size
		prev.next = b.next
		if b.next != nil {
			b.next.prev = prev
		}
		b = prev
	}

	if b.next != nil && b.next.free {
		next := b.next
		b.size += next.size
		b.next = next.next
		if next.next != nil {
			next.next.prev = b
		}
	}

	return nil
}
