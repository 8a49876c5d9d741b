package vmm

import (
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/fault"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
)

// FaultDecision is the outcome of routing a decoded page fault through
// HandleFault.
type FaultDecision uint8

const (
	// FaultResolved means the fault was handled in place; the faulting
	// instruction can be retried.
	FaultResolved FaultDecision = iota

	// FaultKillTask means the fault is a user-mode programming error
	// (e.g. segfault) and the owning task must be terminated.
	FaultKillTask

	// FaultKernelPanic means the fault cannot be attributed to a
	// recoverable condition; the machine must halt.
	FaultKernelPanic
)

// frameRefCount tracks the number of copy-on-write leaves that
// currently share a physical frame. A frame absent from the map is
// exclusively owned and is never looked up here; the map only ever
// holds entries with a count of two or more.
var frameRefCount = map[pmm.Frame]uint32{}

func frameShareCount(f pmm.Frame) uint32 {
	if c, ok := frameRefCount[f]; ok {
		return c
	}
	return 1
}

func retainFrame(f pmm.Frame) {
	if c, ok := frameRefCount[f]; ok {
		frameRefCount[f] = c + 1
		return
	}
	frameRefCount[f] = 2
}

func releaseFrame(f pmm.Frame) {
	c, ok := frameRefCount[f]
	if !ok {
		return
	}
	if c <= 2 {
		delete(frameRefCount, f)
		return
	}
	frameRefCount[f] = c - 1
}

// kernelTemplate is the address space whose kernel-half top-level
// entries are the source of truth for every other address space.
// HandleFault lazily copies missing entries from it so that a kernel
// mapping created after a task has forked still becomes visible to
// that task without eagerly walking every address space in existence.
var kernelTemplate *PageDirectoryTable

// SetKernelTemplate registers the address space used to lazily
// populate missing kernel-half entries in every other address space.
// It is called once, after the kernel's own page tables are built.
func SetKernelTemplate(pdt *PageDirectoryTable) {
	kernelTemplate = pdt
}

// userStackGrowthLow/High describe a single descending region that
// HandleFault treats as valid, unmapped user-stack space: a
// not-present fault inside it is satisfied with a fresh zeroed frame
// instead of being fatal. Zero-valued (low == high) disables growth.
var userStackGrowthLow, userStackGrowthHigh uintptr

// SetUserStackGrowthRegion configures the address range HandleFault
// treats as valid, demand-paged user-stack space.
func SetUserStackGrowthRegion(low, high uintptr) {
	userStackGrowthLow, userStackGrowthHigh = low, high
}

// recursiveSlot is the top-level table index reserved for the
// recursive self-mapping; enumeratePresentLeaves and the kernel
// template sync must never descend into or overwrite it.
func recursiveSlot() uintptr {
	return uintptr(1<<pageLevelBits[0]) - 1
}

// enumeratePresentLeaves walks every present leaf entry reachable from
// the currently active page tables, skipping the recursive
// self-mapping slot. It relies on the same recursive-mapping address
// arithmetic as walk(), generalized from following a single path to
// visiting every populated branch, so cost is proportional to the
// number of live page-table entries rather than the size of the
// address space.
func enumeratePresentLeaves(visit func(virtAddr uintptr, pte *pageTableEntry)) {
	var walkLevel func(level uint8, tableAddr, prefix uintptr)
	walkLevel = func(level uint8, tableAddr, prefix uintptr) {
		entries := uintptr(1) << pageLevelBits[level]
		for idx := uintptr(0); idx < entries; idx++ {
			if level == 0 && idx == recursiveSlot() {
				continue
			}

			entryAddr := tableAddr + (idx << mem.PointerShift)
			pte := (*pageTableEntry)(ptePtrFn(entryAddr))
			if !pte.HasFlags(FlagPresent) {
				continue
			}

			virtAddr := prefix | (idx << pageLevelShifts[level])
			if level == pageLevels-1 {
				visit(virtAddr, pte)
				continue
			}
			if pte.HasFlags(FlagHugePage) {
				continue
			}

			walkLevel(level+1, entryAddr<<pageLevelBits[level], virtAddr)
		}
	}

	walkLevel(0, pdtVirtualAddr, 0)
}

// CloneForFork materializes a copy-on-write copy of the currently
// active address space. Kernel-half top-level entries are copied by
// value so both address spaces resolve kernel addresses through the
// very same sub-tables; every present, user-accessible, writable leaf
// is turned read-only plus FlagCopyOnWrite in both the source and the
// clone, and the backing frame's share count is incremented.
func CloneForFork(allocFn FrameAllocatorFn) (*PageDirectoryTable, *kernel.Error) {
	childFrame, err := allocFn()
	if err != nil {
		return nil, err
	}

	child := &PageDirectoryTable{}
	if err = child.Init(childFrame, allocFn); err != nil {
		return nil, err
	}

	childTop, err := mapTemporaryFn(childFrame, allocFn)
	if err != nil {
		return nil, err
	}
	for idx := uintptr(0); idx < (1 << pageLevelBits[0]); idx++ {
		if idx == recursiveSlot() {
			continue
		}
		parentEntry := (*pageTableEntry)(ptePtrFn(pdtVirtualAddr + (idx << mem.PointerShift)))
		if !parentEntry.HasFlags(FlagPresent) || parentEntry.HasFlags(FlagUserAccessible) {
			continue
		}
		*(*pageTableEntry)(unsafe.Pointer(childTop.Address() + (idx << mem.PointerShift))) = *parentEntry
	}
	unmapFn(childTop)

	var cowErr *kernel.Error
	enumeratePresentLeaves(func(virtAddr uintptr, parentPTE *pageTableEntry) {
		if cowErr != nil || !parentPTE.HasFlags(FlagUserAccessible) {
			return
		}

		frame := parentPTE.Frame()
		if parentPTE.HasFlags(FlagRW) {
			parentPTE.ClearFlags(FlagRW)
			parentPTE.SetFlags(FlagCopyOnWrite)
			flushTLBEntryFn(virtAddr)
		}
		retainFrame(frame)

		preserved := PageTableEntryFlag(uintptr(*parentPTE)) & (FlagUserAccessible | FlagWriteThroughCaching | FlagDoNotCache | FlagNoExecute | FlagCopyOnWrite)
		if err := child.Map(PageFromAddress(virtAddr), frame, FlagPresent|preserved, allocFn); err != nil {
			cowErr = err
		}
	})
	if cowErr != nil {
		return nil, cowErr
	}

	return child, nil
}

// ActivateKernelTemplate switches to kernelTemplate, the one address
// space guaranteed to keep resolving kernel addresses no matter which
// user address space is being torn down. Callers use it to get off a
// soon-to-be-destroyed address space before freeing any of its frames.
func ActivateKernelTemplate() {
	if kernelTemplate != nil {
		kernelTemplate.Activate()
	}
}

// DestroyAddressSpace releases every present, user-accessible frame
// reachable from pdt: shared (copy-on-write or forked) frames just have
// their share count decremented, frames this address space holds
// exclusively are returned to the allocator through freeFrameFn, and
// finally pdt's own top-level frame is freed the same way. pdt need not
// be the currently active address space; like Map/Unmap/Protect it
// reaches an inactive table by temporarily re-pointing the active PDT's
// recursive slot rather than switching CR3. If pdt is active and the
// caller intends to keep running past this call, it must switch away
// first (see ActivateKernelTemplate) since frames backing the live page
// tables may be handed back to the allocator before this returns.
func DestroyAddressSpace(pdt *PageDirectoryTable) *kernel.Error {
	var (
		activePdtFrame   = pmm.Frame(activePDTFn() >> mem.PageShift)
		lastPdtEntryAddr uintptr
		lastPdtEntry     *pageTableEntry
	)
	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastPdtEntry = (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
		lastPdtEntry.SetFrame(pdt.pdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	var ferr *kernel.Error
	enumeratePresentLeaves(func(_ uintptr, pte *pageTableEntry) {
		if ferr != nil || !pte.HasFlags(FlagUserAccessible) {
			return
		}

		frame := pte.Frame()
		if frame == ReservedZeroedFrame {
			return
		}
		if frameShareCount(frame) > 1 {
			releaseFrame(frame)
			return
		}
		if freeFrameFn != nil {
			if err := freeFrameFn(frame); err != nil {
				ferr = err
			}
		}
	})

	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	if ferr != nil {
		return ferr
	}
	if freeFrameFn != nil {
		return freeFrameFn(pdt.pdtFrame)
	}
	return nil
}

// syncKernelSlot copies a missing kernel-half top-level entry from
// kernelTemplate into the currently active address space. It reports
// whether a copy was made.
func syncKernelSlot(addr uintptr) bool {
	if kernelTemplate == nil {
		return false
	}

	idx := (addr >> pageLevelShifts[0]) & ((1 << pageLevelBits[0]) - 1)
	if idx == recursiveSlot() {
		return false
	}

	curEntry := (*pageTableEntry)(ptePtrFn(pdtVirtualAddr + (idx << mem.PointerShift)))
	if curEntry.HasFlags(FlagPresent) {
		return false
	}

	tmplPage, err := mapTemporaryFn(kernelTemplate.pdtFrame, frameAllocator)
	if err != nil {
		return false
	}
	tmplEntry := (*pageTableEntry)(unsafe.Pointer(tmplPage.Address() + (idx << mem.PointerShift)))
	if !tmplEntry.HasFlags(FlagPresent) || tmplEntry.HasFlags(FlagUserAccessible) {
		unmapFn(tmplPage)
		return false
	}

	*curEntry = *tmplEntry
	unmapFn(tmplPage)
	flushTLBEntryFn(addr)
	return true
}

// resolveCOWFault materializes a private copy of a copy-on-write page,
// or simply upgrades it back to writable in place when this fault's
// owner turns out to be the last one left holding the frame.
func resolveCOWFault(faultAddr uintptr, entry *pageTableEntry) *kernel.Error {
	oldFrame := entry.Frame()

	// ReservedZeroedFrame backs every lazily-allocated page system-wide
	// and is never tracked in frameRefCount, so it must never take the
	// exclusive-owner fast path below: upgrading it to RW in place
	// would hand out write access to every other mapping that still
	// shares it.
	if oldFrame != ReservedZeroedFrame && frameShareCount(oldFrame) <= 1 {
		entry.ClearFlags(FlagCopyOnWrite)
		entry.SetFlags(FlagPresent | FlagRW)
		flushTLBEntryFn(faultAddr)
		return nil
	}

	newFrame, err := frameAllocator()
	if err != nil {
		return err
	}
	tmpPage, err := mapTemporaryFn(newFrame, frameAllocator)
	if err != nil {
		return err
	}

	page := PageFromAddress(faultAddr)
	mem.Memcopy(page.Address(), tmpPage.Address(), mem.PageSize)
	unmapFn(tmpPage)

	releaseFrame(oldFrame)
	entry.ClearFlags(FlagCopyOnWrite)
	entry.SetFlags(FlagPresent | FlagRW)
	entry.SetFrame(newFrame)
	flushTLBEntryFn(faultAddr)
	return nil
}

// growUserStack backs a not-present fault inside the configured
// user-stack growth region with a fresh zeroed frame.
func growUserStack(faultAddr uintptr) *kernel.Error {
	frame, err := frameAllocator()
	if err != nil {
		return err
	}

	page := PageFromAddress(faultAddr)
	flags := FlagPresent | FlagRW | FlagUserAccessible | FlagNoExecute
	if err = Map(page, frame, flags, frameAllocator); err != nil {
		return err
	}
	mem.Memset(page.Address(), 0, mem.PageSize)
	return nil
}

// HandleFault routes a decoded page fault through the resolution
// policy: kernel-half lazy sync, copy-on-write materialization, user
// stack growth, and finally either killing the faulting task or
// panicking the kernel.
func HandleFault(pf fault.PageFault) FaultDecision {
	if !pf.IsPresent && syncKernelSlot(pf.Addr) {
		return FaultResolved
	}

	if pf.IsPresent && pf.IsWrite {
		if entry, err := pteForAddress(pf.Addr); err == nil && entry.HasFlags(FlagCopyOnWrite) && !entry.HasFlags(FlagRW) {
			if resolveCOWFault(pf.Addr, entry) != nil {
				return FaultKernelPanic
			}
			return FaultResolved
		}
	}

	if !pf.IsPresent && userStackGrowthHigh > userStackGrowthLow &&
		pf.Addr >= userStackGrowthLow && pf.Addr < userStackGrowthHigh {
		if growUserStack(pf.Addr) != nil {
			return FaultKernelPanic
		}
		return FaultResolved
	}

	if pf.IsUser {
		return FaultKillTask
	}
	return FaultKernelPanic
}
