package task

import "github.com/castorworks/CastorOS-sub004/kernel/cpu"

// Context is the saved execution state for a task that is not
// currently running: the stack pointer cpu.SwitchContext swaps to. Its
// internal stack layout — what sp actually points at — is built by
// InitKernelThreadContext/InitUserProcessContext, which are
// architecture-specific because the callee-saved register set and the
// first-resume trampoline address differ per target.
type Context struct {
	sp uintptr
}

// Switch saves the caller's CPU state into from's Context, loads to's
// Context, and activates to's address space first if it differs from
// from's. It returns once some later Switch call switches back to the
// stack pointer left in from.Context.
func Switch(from, to *Task) {
	if to.AddressSpace != nil && (from.AddressSpace == nil || from.PageDirPhys != to.PageDirPhys) {
		to.AddressSpace.Activate()
	}
	cpu.SwitchContext(&from.Context.sp, to.Context.sp)
}
