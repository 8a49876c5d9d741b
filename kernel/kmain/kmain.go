package kmain

import (
	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/cpu"
	"github.com/castorworks/CastorOS-sub004/kernel/goruntime"
	"github.com/castorworks/CastorOS-sub004/kernel/hal"
	"github.com/castorworks/CastorOS-sub004/kernel/hal/multiboot"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
	"github.com/castorworks/CastorOS-sub004/kernel/kfmt/early"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/heap"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm/allocator"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/vmm"
	"github.com/castorworks/CastorOS-sub004/kernel/proc"
	"github.com/castorworks/CastorOS-sub004/kernel/sched"
	"github.com/castorworks/CastorOS-sub004/kernel/syscall"
	"github.com/castorworks/CastorOS-sub004/kernel/timekeeper"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// timerHz is the frequency, in Hz, the platform timer is programmed to
// fire at once a driver registers itself via drivercontract.SetTimer.
// kernel/timekeeper derives uptime_ms and sleep deadlines from ticks
// at this rate.
const timerHz = 100

// kernelHeapSize is the size of the virtual region kernel/mem/heap
// reserves and eagerly maps at boot. Every kernel-side allocation that
// isn't a raw frame or page table goes through it, starting with
// sched.Init's own idle-task kernel stack.
const kernelHeapSize = mem.Size(4 * 1024 * 1024)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()

	var err *kernel.Error
	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	}
	vmm.SetFrameFreer(allocator.FreeFrame)

	if err = vmm.Init(); err != nil {
		panic(err)
	} else if err = goruntime.Init(); err != nil {
		panic(err)
	}

	// Wrap the page tables rt0 already activated so HandleFault can
	// lazily copy missing kernel-half entries from it into every
	// address space forked or exec'd from this point on.
	var kernelPDT vmm.PageDirectoryTable
	if err = kernelPDT.Init(pmm.Frame(cpu.ActivePDT()>>mem.PageShift), vmm.FrameAllocator()); err != nil {
		panic(err)
	}
	vmm.SetKernelTemplate(&kernelPDT)

	if err = heap.Init(kernelHeapSize, allocator.AllocFrame); err != nil {
		panic(err)
	}

	// A task that faults fatally in user mode is killed instead of
	// panicking the whole machine; sched.Die unwinds the faulting
	// kernel stack for good after proc.Exit has marked it a zombie.
	vmm.SetTaskKiller(func(exitCode int32) {
		proc.Exit(sched.Current(), exitCode)
		sched.Die()
	})

	irq.Init()

	if err = sched.Init(idleLoop); err != nil {
		panic(err)
	}

	if ok, tkErr := timekeeper.Init(timerHz); tkErr != nil {
		panic(kernel.NewError("kmain", tkErr.Error(), 0))
	} else if !ok {
		early.Printf("kmain: no timer driver registered; uptime/sleep unavailable\n")
	}

	syscall.RegisterProcessHandlers()
	syscall.RegisterTimeHandlers()

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kernel.Panic(errKmainReturned)
}

// idleLoop is the scheduler's idle task: it runs whenever no other
// task is Ready and halts the CPU until the next interrupt wakes it
// back up to re-check the ready queue.
func idleLoop() {
	for {
		cpu.EnableInterrupts()
		cpu.Halt()
	}
}
