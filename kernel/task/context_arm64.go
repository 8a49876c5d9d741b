//go:build arm64

package task

import (
	"reflect"
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel/cpu"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
)

// calleeSavedFrame matches the AArch64 PCS callee-saved set (X19-X29,
// LR), followed by the return address cpu.SwitchContext resumes into.
type calleeSavedFrame struct {
	x [11]uintptr // X19-X29
	lr, retAddr   uintptr
}

type entrySlot struct {
	entry func()
}

type userFrameSlot struct {
	regs irq.Regs
}

func funcAddr(fn func()) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// InitKernelThreadContext builds a Context so that the first Switch
// into this task resumes inside cpu.KernelThreadTrampoline, which
// calls entry with a fresh kernel stack.
func InitKernelThreadContext(kernelStackTop uintptr, entry func()) Context {
	sp := kernelStackTop

	sp -= unsafe.Sizeof(entrySlot{})
	(*entrySlot)(unsafe.Pointer(sp)).entry = entry

	sp -= unsafe.Sizeof(calleeSavedFrame{})
	frame := (*calleeSavedFrame)(unsafe.Pointer(sp))
	*frame = calleeSavedFrame{retAddr: funcAddr(cpu.KernelThreadTrampoline)}

	return Context{sp: sp}
}

// InitUserProcessContext builds a Context so that the first Switch
// into this task resumes inside cpu.ReturnToUserMode, which loads the
// irq.Regs frame built here and ERETs to userEntry running on
// userStackTop at EL0, with interrupts unmasked in SPSR_EL1.
func InitUserProcessContext(kernelStackTop, userEntry, userStackTop uintptr) Context {
	const spsrEL0t = 0 // exception level 0, SP_EL0, IRQs unmasked

	sp := kernelStackTop

	sp -= unsafe.Sizeof(userFrameSlot{})
	slot := (*userFrameSlot)(unsafe.Pointer(sp))
	*slot = userFrameSlot{regs: irq.Regs{
		ELR:  uint64(userEntry),
		SPSR: spsrEL0t,
		SP:   uint64(userStackTop),
	}}

	sp -= unsafe.Sizeof(calleeSavedFrame{})
	frame := (*calleeSavedFrame)(unsafe.Pointer(sp))
	*frame = calleeSavedFrame{retAddr: funcAddr(cpu.ReturnToUserMode)}

	return Context{sp: sp}
}

// InitForkedContext builds a Context that resumes a forked child at
// the exact point its parent trapped into the syscall dispatcher:
// parentRegs is copied verbatim onto the child's own kernel stack with
// X0 overwritten to childReturn, so the child's first resume ERETs
// back to the instruction after the syscall instruction with the
// agreed return value instead of the parent's.
func InitForkedContext(kernelStackTop uintptr, parentRegs *irq.Regs, childReturn int64) Context {
	sp := kernelStackTop

	sp -= unsafe.Sizeof(userFrameSlot{})
	slot := (*userFrameSlot)(unsafe.Pointer(sp))
	slot.regs = *parentRegs
	slot.regs.X[0] = uint64(childReturn)

	sp -= unsafe.Sizeof(calleeSavedFrame{})
	frame := (*calleeSavedFrame)(unsafe.Pointer(sp))
	*frame = calleeSavedFrame{retAddr: funcAddr(cpu.ReturnToUserMode)}

	return Context{sp: sp}
}
