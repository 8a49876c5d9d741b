// Package syscall is the single trusted entry point from user mode: it
// turns a raw trap frame into a syscall number and six argument words
// per the architecture's ABI, validates any user pointers among those
// arguments, routes to a registered handler and writes the result back
// into the trap frame in the return-value convention SyscallDispatcher
// promises (non-negative on success, a negative errno.Category on
// failure). Everything past arg decoding is architecture-neutral;
// kernel/proc, kernel/sched and kernel/task do the actual work.
package syscall

import (
	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/arch"
	"github.com/castorworks/CastorOS-sub004/kernel/errno"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
	"github.com/castorworks/CastorOS-sub004/kernel/task"
)

// Handler implements one syscall number. args is always six words
// wide; handlers that take fewer simply ignore the rest. A non-nil
// *kernel.Error is converted to its Category's negative return value;
// errno.None or a nil error never happens together with a non-nil
// error so the two never need to agree on which one wins.
type Handler func(t *task.Task, regs *irq.Regs, args [6]uintptr) (int64, *kernel.Error)

var table = map[uint64]Handler{}

// Register installs handler for the given syscall number, overwriting
// whatever was registered before. Called from kernel/kmain during
// boot, before any task can trap into user mode.
func Register(number uint64, handler Handler) {
	table[number] = handler
}

// Dispatch is called by the per-architecture syscall trap stub with
// the saved register state. It decodes the syscall number and
// arguments through arch.Active, looks up the handler, runs it and
// writes the return value back into regs in the architecture's
// return-register slot.
func Dispatch(t *task.Task, regs *irq.Regs) {
	raw := toTrapRegs(regs)
	number := arch.Active.SyscallNumber(&raw)
	args := arch.Active.SyscallArgs(&raw)

	var ret int64
	if handler, ok := table[number]; ok {
		var err *kernel.Error
		ret, err = handler(t, regs, args)
		if err != nil {
			ret = err.Category.Retval()
		}
	} else {
		ret = errno.NoSuchSyscall.Retval()
	}

	arch.Active.SetSyscallReturn(&raw, ret)
	storeReturn(&raw, regs)
}
