package cpu

// EnableInterrupts enables interrupt handling (unmasks IRQs in DAIF).
func EnableInterrupts()

// DisableInterrupts disables interrupt handling (masks IRQs in DAIF).
func DisableInterrupts()

// Halt stops instruction execution (WFI loop).
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address (TLBI
// VAE1, followed by DSB/ISB).
func FlushTLBEntry(virtAddr uintptr)

// FlushTLB invalidates the entire TLB for the current ASID (TLBI VMALLE1).
func FlushTLB()

// SwitchPDT sets TTBR0_EL1 to the specified physical address and flushes the
// TLB. CastorOS keeps the kernel mapped through TTBR1_EL1, which never
// changes across address spaces.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address currently loaded in TTBR0_EL1.
func ActivePDT() uintptr

// ReadFAR returns the contents of FAR_EL1, the register the CPU loads with
// the faulting address for a data or instruction abort.
func ReadFAR() uint64

// ReadESR returns the contents of ESR_EL1, the exception syndrome register
// decoded by FaultDecoder for ARM64.
func ReadESR() uint64

// ReadCR2 returns the faulting address for the most recent data or
// instruction abort. On ARM64 this is FAR_EL1; the name is kept aligned
// with the x86 architectures so vmm's fault handling can stay
// architecture-neutral.
func ReadCR2() uint64

// SwitchContext saves the callee-saved registers (X19-X29, LR) and the
// stack pointer of the calling task, records the new stack pointer at
// *savedSP, switches SP to newSP and pops the callee-saved frame newSP
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
// executes ERET, entering user mode (EL0) for the first time.
func ReturnToUserMode()
