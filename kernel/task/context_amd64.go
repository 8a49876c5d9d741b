//go:build amd64

package task

import (
	"reflect"
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel/cpu"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
)

// calleeSavedFrame is the register frame cpu.SwitchContext pushes and
// pops, matching the System V AMD64 callee-saved set, followed by the
// return address it resumes into.
type calleeSavedFrame struct {
	r15, r14, r13, r12, rbx, rbp uintptr
	retAddr                      uintptr
}

// entrySlot sits directly below the callee-saved frame on a freshly
// built kernel-thread stack; cpu.KernelThreadTrampoline reads it to
// find the Go function to call on first run.
type entrySlot struct {
	entry func()
}

// userFrameSlot sits directly below the callee-saved frame on a
// freshly built user-process stack; cpu.ReturnToUserMode reads it to
// find the register state to IRET into.
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
// irq.Regs frame built here and IRETs to userEntry running on
// userStackTop, with interrupts enabled and the user code/data
// segments selected.
func InitUserProcessContext(kernelStackTop, userEntry, userStackTop uintptr) Context {
	const (
		userCodeSegment = 0x1b // GDT selector, RPL 3
		userDataSegment = 0x23
		rflagsIF        = 1 << 9
	)

	sp := kernelStackTop

	sp -= unsafe.Sizeof(userFrameSlot{})
	slot := (*userFrameSlot)(unsafe.Pointer(sp))
	*slot = userFrameSlot{regs: irq.Regs{
		RIP:    uint64(userEntry),
		CS:     userCodeSegment,
		RFlags: rflagsIF,
		RSP:    uint64(userStackTop),
		SS:     userDataSegment,
	}}

	sp -= unsafe.Sizeof(calleeSavedFrame{})
	frame := (*calleeSavedFrame)(unsafe.Pointer(sp))
	*frame = calleeSavedFrame{retAddr: funcAddr(cpu.ReturnToUserMode)}

	return Context{sp: sp}
}

// InitForkedContext builds a Context that resumes a forked child at
// the exact point its parent trapped into the syscall dispatcher:
// parentRegs is copied verbatim onto the child's own kernel stack with
// RAX overwritten to childReturn, so the child's first resume IRETs
// back to the instruction after the syscall instruction with the
// agreed return value instead of the parent's.
func InitForkedContext(kernelStackTop uintptr, parentRegs *irq.Regs, childReturn int64) Context {
	sp := kernelStackTop

	sp -= unsafe.Sizeof(userFrameSlot{})
	slot := (*userFrameSlot)(unsafe.Pointer(sp))
	slot.regs = *parentRegs
	slot.regs.RAX = uint64(childReturn)

	sp -= unsafe.Sizeof(calleeSavedFrame{})
	frame := (*calleeSavedFrame)(unsafe.Pointer(sp))
	*frame = calleeSavedFrame{retAddr: funcAddr(cpu.ReturnToUserMode)}

	return Context{sp: sp}
}
