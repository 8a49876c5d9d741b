package vmm

import (
	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/cpu"
	"github.com/castorworks/CastorOS-sub004/kernel/fault"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
	"github.com/castorworks/CastorOS-sub004/kernel/kfmt/early"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
)

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator. It backs code paths that cannot accept an
	// explicit allocFn argument, such as the page fault handler, whose
	// signature is dictated by the irq package.
	frameAllocator FrameAllocatorFn

	// freeFrameFn points to a frame-free function registered using
	// SetFrameFreer. DestroyAddressSpace uses it to return frames it no
	// longer shares with any address space to the physical allocator.
	freeFrameFn FrameFreeFn

	// taskKillFn points to the function registered using SetTaskKiller.
	// pageFaultHandler calls it, instead of panicking, when a user-mode
	// fault cannot be resolved.
	taskKillFn func(exitCode int32)

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	panicFn                   = kernel.Panic
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode
	readCR2Fn                 = cpu.ReadCR2
)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// FrameAllocator returns the currently registered frame allocator, for
// callers outside this package (kernel/proc's fork/execve) that need
// to pass one to CloneForFork/PageDirectoryTable.Init without each
// importing kernel/mem/pmm/allocator directly.
func FrameAllocator() FrameAllocatorFn {
	return frameAllocator
}

// SetFrameFreer registers the function DestroyAddressSpace uses to
// return frames no longer referenced by any address space to the
// physical allocator.
func SetFrameFreer(freeFn FrameFreeFn) {
	freeFrameFn = freeFn
}

// faultExitCode is the exit-code convention an unresolved page fault
// kills its task with: 128 + signal number, the same encoding
// kernel/proc's Kill uses for every other signal-terminated task, with
// SIGSEGV (11) standing in for "bad memory access" since this kernel
// never queues real signal numbers to a handler.
const faultExitCode = 128 + 11

// SetTaskKiller registers the function pageFaultHandler calls to
// terminate the current task when HandleFault reports FaultKillTask
// for a user-mode fault, instead of panicking the whole kernel.
// kernel/kmain wires this to kernel/proc's Exit (on sched.Current())
// followed by sched.Die, the same pair kernel/syscall's exit handler
// uses.
func SetTaskKiller(fn func(exitCode int32)) {
	taskKillFn = fn
}

func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	pf := fault.DecodeX86(errorCode, uintptr(readCR2Fn()))

	switch HandleFault(pf) {
	case FaultResolved:
		return
	case FaultKillTask:
		if pf.IsUser && taskKillFn != nil {
			taskKillFn(faultExitCode)
			return
		}
		nonRecoverablePageFault(pf, frame, regs, nil)
	default:
		nonRecoverablePageFault(pf, frame, regs, nil)
	}
}

func nonRecoverablePageFault(pf fault.PageFault, frame *irq.Frame, regs *irq.Regs, err *kernel.Error) {
	early.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", pf.Addr)
	switch {
	case !pf.IsPresent:
		early.Printf("access to a non-present page")
	case pf.IsReserved:
		early.Printf("page table has reserved bit set")
	case pf.IsExec:
		early.Printf("instruction fetch")
	case pf.IsWrite:
		early.Printf("page protection violation (write)")
	default:
		early.Printf("page protection violation (read)")
	}
	if pf.IsUser {
		early.Printf(", in user mode")
	}

	early.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()

	// TODO: Revisit this when user-mode tasks are implemented
	panicFn(err)
}

func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	early.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	early.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	// TODO: Revisit this when user-mode tasks are implemented
	panicFn(nil)
}

// reserveZeroedFrame reserves a physical frame to be used together with
// FlagCopyOnWrite for lazy allocation requests.
func reserveZeroedFrame() *kernel.Error {
	var (
		err      *kernel.Error
		tempPage Page
	)

	if ReservedZeroedFrame, err = frameAllocator(); err != nil {
		return err
	} else if tempPage, err = mapTemporaryFn(ReservedZeroedFrame, frameAllocator); err != nil {
		return err
	}
	mem.Memset(tempPage.Address(), 0, mem.PageSize)
	unmapFn(tempPage)

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag
	protectReservedZeroedPage = true
	return nil
}

// Init initializes the vmm system and installs paging-related exception
// handlers.
func Init() *kernel.Error {
	if err := reserveZeroedFrame(); err != nil {
		return err
	}

	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
	return nil
}
