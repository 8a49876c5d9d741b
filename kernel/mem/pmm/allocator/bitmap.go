// Package allocator wires together the early boot-time frame allocator
// (pmm.BootMemAllocator) and the steady-state bitmap allocator
// (BitmapAllocator). It lives separately from package pmm because
// setting up the bitmap pools requires reserving and mapping virtual
// memory via kernel/mem/vmm, and vmm itself depends on pmm.Frame —
// placing BitmapAllocator directly in pmm would create an import
// cycle.
package allocator

import (
	"reflect"
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/bootinfo"
	"github.com/castorworks/CastorOS-sub004/kernel/kfmt/early"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/vmm"
)

// FrameAllocator is the BitmapAllocator instance that serves as the
// kernel's primary frame allocator once Init has bootstrapped it.
var FrameAllocator BitmapAllocator

var (
	// the following functions are used by tests to mock calls into the
	// vmm package and are automatically inlined by the compiler.
	reserveRegionFn = vmm.EarlyReserveRegion
	mapFn           = vmm.Map

	errOutOfMemory               = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory"}
	errInvalidContiguousRequest  = &kernel.Error{Module: "bitmap_alloc", Message: "contiguous allocation requests must ask for at least one frame"}
	errFrameNotManaged           = &kernel.Error{Module: "bitmap_alloc", Message: "frame does not belong to any managed memory pool"}
	errDoubleFree                = &kernel.Error{Module: "bitmap_alloc", Message: "attempted to free a frame that is already free"}
)

type markAs bool

const (
	markReserved markAs = false
	markFree     markAs = true
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame pmm.Frame

	// endFrame tracks the last frame in the pool.
	endFrame pmm.Frame

	// freeCount tracks the available pages in this pool so fully
	// allocated pools can be skipped without scanning their bitmap.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool. A set bit means
	// the corresponding frame is reserved (used); a clear bit means
	// free.
	freeBitmap    []uint64
	freeBitmapHdr reflect.SliceHeader
}

// BitmapAllocator implements a physical frame allocator that tracks
// frame reservations across the available memory pools using bitmaps.
type BitmapAllocator struct {
	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	pools    []framePool
	poolsHdr reflect.SliceHeader
}

// init allocates space for the allocator structures using the early
// bump allocator, reserves the frames occupied by the kernel image and
// by the early allocator's own allocations, and prints a summary.
func (alloc *BitmapAllocator) init(kernelStart, kernelEnd uintptr) *kernel.Error {
	if err := alloc.setupPoolBitmaps(); err != nil {
		return err
	}

	alloc.reserveRange(kernelStart, mem.Size(kernelEnd-kernelStart))
	alloc.reserveEarlyAllocatorFrames()
	alloc.printStats()
	return nil
}

// setupPoolBitmaps uses the early allocator and vmm's region
// reservation helper to lay out the list of available pools and their
// free bitmap slices in reserved virtual memory.
func (alloc *BitmapAllocator) setupPoolBitmaps() *kernel.Error {
	var (
		err                 *kernel.Error
		sizeofPool          = unsafe.Sizeof(framePool{})
		pageSizeMinus1      = uint64(mem.PageSize - 1)
		requiredBitmapBytes mem.Size
	)

	// First pass: count available regions and size their bitmaps.
	bootinfo.VisitMemoryMap(func(region *bootinfo.MemoryMapEntry) bool {
		if region.Type != bootinfo.RegionAvailable {
			return true
		}

		alloc.poolsHdr.Len++
		alloc.poolsHdr.Cap++

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame.
		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysAddress+region.Length) &^ pageSizeMinus1)>>mem.PageShift) - 1
		if regionEndFrame < regionStartFrame {
			return true
		}
		pageCount := uint32(regionEndFrame - regionStartFrame + 1)
		alloc.totalPages += pageCount

		// The bitmap uses uint64 words; round the bit count up to a
		// multiple of 64 bits.
		requiredBitmapBytes += mem.Size(((pageCount + 63) &^ 63) >> 3)
		return true
	})

	if alloc.poolsHdr.Len == 0 {
		return errOutOfMemory
	}

	requiredBytes := mem.Size(((uint64(uintptr(alloc.poolsHdr.Len)*sizeofPool) + uint64(requiredBitmapBytes)) + pageSizeMinus1) &^ pageSizeMinus1)
	requiredPages := requiredBytes >> mem.PageShift
	alloc.poolsHdr.Data, err = reserveRegionFn(requiredBytes)
	if err != nil {
		return err
	}

	for page, index := vmm.PageFromAddress(alloc.poolsHdr.Data), mem.Size(0); index < requiredPages; page, index = page+1, index+1 {
		nextFrame, err := earlyAllocFrame()
		if err != nil {
			return err
		}

		if err = mapFn(page, nextFrame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute, earlyAllocFrame); err != nil {
			return err
		}

		mem.Memset(page.Address(), 0, mem.PageSize)
	}

	alloc.pools = *(*[]framePool)(unsafe.Pointer(&alloc.poolsHdr))

	// Second pass: carve up the reserved region into per-pool bitmap
	// slices.
	bitmapStartAddr := alloc.poolsHdr.Data + uintptr(alloc.poolsHdr.Len)*sizeofPool
	poolIndex := 0
	bootinfo.VisitMemoryMap(func(region *bootinfo.MemoryMapEntry) bool {
		if region.Type != bootinfo.RegionAvailable {
			return true
		}

		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysAddress+region.Length) &^ pageSizeMinus1)>>mem.PageShift) - 1
		if regionEndFrame < regionStartFrame {
			return true
		}
		bitmapBytes := uintptr((((regionEndFrame - regionStartFrame + 1) + 63) &^ 63) >> 3)

		alloc.pools[poolIndex].startFrame = regionStartFrame
		alloc.pools[poolIndex].endFrame = regionEndFrame
		alloc.pools[poolIndex].freeCount = uint32(regionEndFrame - regionStartFrame + 1)
		alloc.pools[poolIndex].freeBitmapHdr.Len = int(bitmapBytes >> 3)
		alloc.pools[poolIndex].freeBitmapHdr.Cap = alloc.pools[poolIndex].freeBitmapHdr.Len
		alloc.pools[poolIndex].freeBitmapHdr.Data = bitmapStartAddr
		alloc.pools[poolIndex].freeBitmap = *(*[]uint64)(unsafe.Pointer(&alloc.pools[poolIndex].freeBitmapHdr))

		bitmapStartAddr += bitmapBytes
		poolIndex++
		return true
	})

	return nil
}

// markFrame updates the reservation flag for the bitmap entry that
// corresponds to frame within the given pool.
func (alloc *BitmapAllocator) markFrame(poolIndex int, frame pmm.Frame, flag markAs) {
	if poolIndex < 0 || frame < alloc.pools[poolIndex].startFrame || frame > alloc.pools[poolIndex].endFrame {
		return
	}

	// The offset in the block is given by: frame % 64. The bitmap uses
	// a big-endian bit order so the active bit is at index 63-offset.
	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	switch flag {
	case markFree:
		alloc.pools[poolIndex].freeBitmap[block] &^= mask
		alloc.pools[poolIndex].freeCount++
		alloc.reservedPages--
	case markReserved:
		alloc.pools[poolIndex].freeBitmap[block] |= mask
		alloc.pools[poolIndex].freeCount--
		alloc.reservedPages++
	}
}

// frameIsReserved reports whether frame's bit is currently set.
func (alloc *BitmapAllocator) frameIsReserved(poolIndex int, frame pmm.Frame) bool {
	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	return alloc.pools[poolIndex].freeBitmap[block]&mask != 0
}

// poolForFrame returns the index of the pool that contains frame, or
// -1 if frame does not belong to any available memory pool.
func (alloc *BitmapAllocator) poolForFrame(frame pmm.Frame) int {
	for poolIndex, pool := range alloc.pools {
		if frame >= pool.startFrame && frame <= pool.endFrame {
			return poolIndex
		}
	}

	return -1
}

// reserveRange marks every frame overlapping [start, start+size) as
// reserved. Used to carve the kernel image, and later arbitrary
// ranges via SetHeapReserved, out of the free pool.
func (alloc *BitmapAllocator) reserveRange(start uintptr, size mem.Size) {
	startFrame := pmm.Frame(start >> mem.PageShift)
	frameCount := size.Pages()
	for i := uint32(0); i < frameCount; i++ {
		frame := startFrame + pmm.Frame(i)
		if p := alloc.poolForFrame(frame); p >= 0 && !alloc.frameIsReserved(p, frame) {
			alloc.markFrame(p, frame, markReserved)
		}
	}
}

// reserveEarlyAllocatorFrames marks the bitmap entries for the frames
// already handed out by the early allocator as reserved. The early
// allocator does not track individual frames, only a counter, so its
// state is reset and the allocation sequence replayed to recover the
// exact frame list.
func (alloc *BitmapAllocator) reserveEarlyAllocatorFrames() {
	allocCount := pmm.EarlyAllocator.AllocCount()
	pmm.EarlyAllocator.Init()
	for i := uint64(0); i < allocCount; i++ {
		frame, _ := pmm.EarlyAllocator.AllocFrame(0)
		alloc.markFrame(alloc.poolForFrame(frame), frame, markReserved)
	}
}

func (alloc *BitmapAllocator) printStats() {
	early.Printf(
		"[bitmap_alloc] page stats: free: %d/%d (%d reserved)\n",
		alloc.totalPages-alloc.reservedPages,
		alloc.totalPages,
		alloc.reservedPages,
	)
}

// AllocFrame reserves and returns the lowest-numbered free frame.
func (alloc *BitmapAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	for poolIndex := range alloc.pools {
		pool := &alloc.pools[poolIndex]
		if pool.freeCount == 0 {
			continue
		}

		for block := 0; block < len(pool.freeBitmap); block++ {
			if pool.freeBitmap[block] == ^uint64(0) {
				continue
			}

			for bit := 0; bit < 64; bit++ {
				mask := uint64(1) << uint(63-bit)
				if pool.freeBitmap[block]&mask != 0 {
					continue
				}

				frame := pool.startFrame + pmm.Frame(block)<<6 + pmm.Frame(bit)
				if frame > pool.endFrame {
					break
				}

				alloc.markFrame(poolIndex, frame, markReserved)
				return frame, nil
			}
		}
	}

	return pmm.InvalidFrame, errOutOfMemory
}

// AllocContiguous reserves and returns the first frame of a run of
// count consecutive free frames, the first of which is aligned to
// align frames. The scan is lowest-address-first, matching AllocFrame.
func (alloc *BitmapAllocator) AllocContiguous(count, align uint32) (pmm.Frame, *kernel.Error) {
	if count == 0 {
		return pmm.InvalidFrame, errInvalidContiguousRequest
	}
	if align == 0 {
		align = 1
	}

	for poolIndex := range alloc.pools {
		pool := &alloc.pools[poolIndex]
		if pool.freeCount < count {
			continue
		}

		start := pool.startFrame
		if rem := uint64(start) % uint64(align); rem != 0 {
			start += pmm.Frame(uint64(align) - rem)
		}

		for candidate := start; candidate+pmm.Frame(count)-1 <= pool.endFrame; candidate += pmm.Frame(align) {
			allFree := true
			for i := uint32(0); i < count; i++ {
				if alloc.frameIsReserved(poolIndex, candidate+pmm.Frame(i)) {
					allFree = false
					break
				}
			}

			if !allFree {
				continue
			}

			for i := uint32(0); i < count; i++ {
				alloc.markFrame(poolIndex, candidate+pmm.Frame(i), markReserved)
			}
			return candidate, nil
		}
	}

	return pmm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a previously allocated frame back to its pool.
// Freeing a frame that is already free is reported as an error instead
// of silently corrupting the free count.
func (alloc *BitmapAllocator) FreeFrame(frame pmm.Frame) *kernel.Error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return errFrameNotManaged
	}

	if !alloc.frameIsReserved(poolIndex, frame) {
		return errDoubleFree
	}

	alloc.markFrame(poolIndex, frame, markFree)
	return nil
}

// SetHeapReserved marks every frame overlapping the given physical
// range as reserved, so it is never handed out as a page-table or DMA
// frame. It is meant to be called once, after init, to carve out the
// kernel heap's backing memory.
func (alloc *BitmapAllocator) SetHeapReserved(start uintptr, size mem.Size) *kernel.Error {
	startFrame := pmm.Frame(start >> mem.PageShift)
	if alloc.poolForFrame(startFrame) < 0 {
		return errFrameNotManaged
	}

	alloc.reserveRange(start, size)
	return nil
}

// TotalFrames returns the total number of frames across all managed
// pools.
func (alloc *BitmapAllocator) TotalFrames() uint32 {
	return alloc.totalPages
}

// UsedFrames returns the number of frames currently reserved across
// all managed pools.
func (alloc *BitmapAllocator) UsedFrames() uint32 {
	return alloc.reservedPages
}

// earlyAllocFrame delegates a frame allocation request to the early
// allocator. It is passed as an argument to vmm.SetFrameAllocator and
// to vmm.Map instead of pmm.EarlyAllocator.AllocFrame directly, since
// a method value would confuse escape analysis into thinking
// EarlyAllocator escapes to the heap.
func earlyAllocFrame() (pmm.Frame, *kernel.Error) {
	return pmm.EarlyAllocator.AllocFrame(0)
}

// AllocFrame delegates to FrameAllocator. It is exported for packages
// outside allocator (kernel/goruntime, kernel/kmain) that need a
// vmm.FrameAllocatorFn value; see earlyAllocFrame for why a plain
// function is used instead of a FrameAllocator.AllocFrame method
// value at each call site.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrame()
}

// FreeFrame delegates to FrameAllocator. Exported for the same reason
// as AllocFrame; kernel/kmain passes it to vmm.SetFrameFreer.
func FreeFrame(frame pmm.Frame) *kernel.Error {
	return FrameAllocator.FreeFrame(frame)
}

// bitmapAllocFrame delegates a frame allocation request to
// FrameAllocator; see earlyAllocFrame for why this indirection exists.
func bitmapAllocFrame() (pmm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrame()
}

// Init bootstraps the physical memory allocation subsystem. The early
// bump allocator is primed first and registered with vmm so
// BitmapAllocator can reserve and map the virtual memory it needs for
// its own bookkeeping; once that bookkeeping is in place,
// BitmapAllocator takes over as the frame allocator registered with
// vmm for the remainder of the kernel's lifetime.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	pmm.EarlyAllocator.Init()
	vmm.SetFrameAllocator(earlyAllocFrame)

	if err := FrameAllocator.init(kernelStart, kernelEnd); err != nil {
		return err
	}
	vmm.SetFrameAllocator(bitmapAllocFrame)

	return nil
}
