package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLB reloads CR3 with its current value, flushing every non-global
// TLB entry in one shot.
func FlushTLB()

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the contents of CR2, the register the CPU loads with the
// faulting address whenever a page fault exception fires.
func ReadCR2() uint64

// SwitchContext saves the callee-saved registers (EBX, ESI, EDI, EBP) and
// the stack pointer of the calling task, records the new stack pointer at
// *savedSP, switches ESP to newSP and pops the callee-saved frame newSP
// points at. It returns when some later SwitchContext call switches back
// to the stack pointer left at *savedSP.
func SwitchContext(savedSP *uintptr, newSP uintptr)

// KernelThreadTrampoline is the address a freshly built kernel-thread
// Context resumes into after its first SwitchContext: it calls the Go
// function pointer task.InitKernelThreadContext left at the top of the
// new stack, then hands control to the scheduler's task-exit path if
// that function ever returns.
func KernelThreadTrampoline()

// ReturnToUserMode is the address a freshly built user-process Context
// resumes into after its first SwitchContext: it loads the irq.Regs
// frame task.InitUserProcessContext left on the new kernel stack and
// executes IRET, entering user mode for the first time.
func ReturnToUserMode()
