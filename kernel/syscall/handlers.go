package syscall

import (
	"encoding/binary"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/errno"
	"github.com/castorworks/CastorOS-sub004/kernel/hal"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
	"github.com/castorworks/CastorOS-sub004/kernel/proc"
	"github.com/castorworks/CastorOS-sub004/kernel/sched"
	"github.com/castorworks/CastorOS-sub004/kernel/task"
)

// Syscall numbers, Linux amd64's table borrowed as a single neutral
// numbering scheme shared by every architecture this kernel targets;
// nothing below depends on Linux ABI compatibility beyond the numbers
// themselves.
const (
	sysWrite   = 1
	sysFork    = 57
	sysExecve  = 59
	sysExit    = 60
	sysWait4   = 61
	sysKill    = 62
	sysGetpid  = 39
	sysGetppid = 110
	sysYield   = 24
)

// waitOptionNoHang mirrors WNOHANG; this kernel only ever recognizes
// this one waitpid option bit.
const waitOptionNoHang = 1

// RegisterProcessHandlers installs the fork/execve/exit/waitpid/kill/
// getpid/getppid/sched_yield handlers kernel/proc and kernel/sched
// back. Called once from kernel/kmain during boot.
func RegisterProcessHandlers() {
	Register(sysFork, handleFork)
	Register(sysExecve, handleExecve)
	Register(sysExit, handleExit)
	Register(sysWait4, handleWait4)
	Register(sysKill, handleKill)
	Register(sysGetpid, handleGetpid)
	Register(sysGetppid, handleGetppid)
	Register(sysYield, handleYield)
	Register(sysWrite, handleWrite)
}

func handleFork(t *task.Task, regs *irq.Regs, _ [6]uintptr) (int64, *kernel.Error) {
	child, err := proc.Fork(t, regs)
	if err != nil {
		return 0, err
	}
	sched.AddReady(child)
	return int64(child.PID), nil
}

func handleExecve(t *task.Task, regs *irq.Regs, args [6]uintptr) (int64, *kernel.Error) {
	path, err := CopyInString(args[0])
	if err != nil {
		return 0, err
	}
	argv, err := CopyInStringArray(args[1])
	if err != nil {
		return 0, err
	}
	envp, err := CopyInStringArray(args[2])
	if err != nil {
		return 0, err
	}
	if err = proc.Execve(t, path, argv, envp); err != nil {
		return 0, err
	}
	// proc.Execve already rebuilt t.Context for the next time the
	// scheduler dispatches t, but this syscall is still going to return
	// through the trap frame it was entered with, which still holds the
	// old program's RIP/RSP. Retarget it to the new entry point and
	// stack so the pending IRET lands in the new program rather than
	// resuming the one that just replaced its own address space.
	setEntryPoint(regs, t.UserEntry, t.UserStackTop)
	return 0, nil
}

func handleExit(t *task.Task, _ *irq.Regs, args [6]uintptr) (int64, *kernel.Error) {
	proc.Exit(t, int32(args[0]))
	sched.Die()
	panic("unreachable: sched.Die never returns to an exited task")
}

func handleWait4(t *task.Task, _ *irq.Regs, args [6]uintptr) (int64, *kernel.Error) {
	pid := task.PID(args[0])
	statusAddr := args[1]
	nohang := args[2]&waitOptionNoHang != 0

	childPID, status, found, err := proc.Waitpid(t, pid, nohang)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	if statusAddr != 0 {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(status))
		if err = CopyOut(statusAddr, buf[:]); err != nil {
			return 0, err
		}
	}
	return int64(childPID), nil
}

func handleKill(_ *task.Task, _ *irq.Regs, args [6]uintptr) (int64, *kernel.Error) {
	if err := proc.Kill(task.PID(args[0]), int32(args[1])); err != nil {
		return 0, err
	}
	return 0, nil
}

func handleGetpid(t *task.Task, _ *irq.Regs, _ [6]uintptr) (int64, *kernel.Error) {
	return int64(t.PID), nil
}

func handleGetppid(t *task.Task, _ *irq.Regs, _ [6]uintptr) (int64, *kernel.Error) {
	return int64(t.PPID), nil
}

func handleYield(_ *task.Task, _ *irq.Regs, _ [6]uintptr) (int64, *kernel.Error) {
	sched.YieldNow()
	return 0, nil
}

// handleWrite only ever targets the two console file descriptors: a
// concrete filesystem's regular-file writes go through
// kernel/vfscontract once one is registered, but this kernel always
// has a console to prove the syscall path (and spec.md §8's argument
// validation scenario) end to end without one.
func handleWrite(_ *task.Task, _ *irq.Regs, args [6]uintptr) (int64, *kernel.Error) {
	fd, addr, length := int(args[0]), args[1], args[2]
	if fd != 1 && fd != 2 {
		return 0, kernel.NewError("syscall", "write to an unopened file descriptor", errno.BadFileDescriptor)
	}

	buf := make([]byte, length)
	if err := CopyIn(addr, buf); err != nil {
		return 0, err
	}
	n, _ := hal.ActiveTerminal.Write(buf)
	return int64(n), nil
}
