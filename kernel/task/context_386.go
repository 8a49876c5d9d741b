//go:build 386

package task

import (
	"reflect"
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel/cpu"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
)

// calleeSavedFrame matches the cdecl callee-saved set (EBX, ESI, EDI,
// EBP), followed by the return address cpu.SwitchContext resumes into.
type calleeSavedFrame struct {
	ebx, esi, edi, ebp uintptr
	retAddr            uintptr
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
// irq.Regs frame built here and IRETs to userEntry running on
// userStackTop.
func InitUserProcessContext(kernelStackTop, userEntry, userStackTop uintptr) Context {
	const (
		userCodeSegment = 0x1b
		userDataSegment = 0x23
		eflagsIF        = 1 << 9
	)

	sp := kernelStackTop

	sp -= unsafe.Sizeof(userFrameSlot{})
	slot := (*userFrameSlot)(unsafe.Pointer(sp))
	*slot = userFrameSlot{regs: irq.Regs{
		EIP:    uint32(userEntry),
		CS:     userCodeSegment,
		EFlags: eflagsIF,
		ESP:    uint32(userStackTop),
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
// EAX overwritten to childReturn, so the child's first resume IRETs
// back to the instruction after the syscall instruction with the
// agreed return value instead of the parent's.
func InitForkedContext(kernelStackTop uintptr, parentRegs *irq.Regs, childReturn int64) Context {
	sp := kernelStackTop

	sp -= unsafe.Sizeof(userFrameSlot{})
	slot := (*userFrameSlot)(unsafe.Pointer(sp))
	slot.regs = *parentRegs
	slot.regs.EAX = uint32(childReturn)

	sp -= unsafe.Sizeof(calleeSavedFrame{})
	frame := (*calleeSavedFrame)(unsafe.Pointer(sp))
	*frame = calleeSavedFrame{retAddr: funcAddr(cpu.ReturnToUserMode)}

	return Context{sp: sp}
}
