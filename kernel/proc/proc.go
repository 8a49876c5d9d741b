// Package proc implements the process-control operations that build
// on top of kernel/task and kernel/sched: fork, execve, exit, waitpid
// and kill. It is the layer kernel/syscall calls into once it has
// decoded and validated a syscall's arguments.
package proc

import (
	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/errno"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
	"github.com/castorworks/CastorOS-sub004/kernel/ksync"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/heap"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/vmm"
	"github.com/castorworks/CastorOS-sub004/kernel/sched"
	"github.com/castorworks/CastorOS-sub004/kernel/task"
	"github.com/castorworks/CastorOS-sub004/kernel/vfscontract"
)

var (
	errNoSuchProcess = kernel.NewError("proc", "no such process", errno.NoSuchProcess)
	errNoChild       = kernel.NewError("proc", "task has no matching child", errno.NoSuchProcess)
	errNoFS          = kernel.NewError("proc", "no filesystem registered", errno.NotImplemented)
)

// childExited signals a parent blocked in Waitpid that one of its
// children has become a Zombie; it is keyed by the parent's PID.
var childExited = map[task.PID]*ksync.WaitQueue{}

func waitQueueFor(pid task.PID) *ksync.WaitQueue {
	wq, ok := childExited[pid]
	if !ok {
		wq = &ksync.WaitQueue{}
		childExited[pid] = wq
	}
	return wq
}

// Fork duplicates parent into a new child task: a copy-on-write clone
// of its address space, a copy of its open-file table, and a fresh
// kernel stack whose saved context resumes at the instruction after
// the syscall parent trapped into, with a return value of 0 instead of
// parent's (the child's PID, which Fork returns to the caller to place
// in parent's own return register). The child is registered but left
// in state New; the caller admits it with sched.AddReady once it is
// safe to run.
func Fork(parent *task.Task, trapRegs *irq.Regs) (*task.Task, *kernel.Error) {
	childPDT, err := vmm.CloneForFork(vmm.FrameAllocator())
	if err != nil {
		return nil, err
	}

	stackBase, err := heap.KMalloc(sched.KernelStackSize, 0)
	if err != nil {
		return nil, err
	}

	child := task.NewTask()
	child.PPID = parent.PID
	child.Parent = parent.PID
	child.AddressSpace = childPDT
	child.PageDirPhys = childPDT.Frame()
	child.Cwd = parent.Cwd
	child.UserEntry = parent.UserEntry
	child.UserStackTop = parent.UserStackTop
	child.NextFD = parent.NextFD

	child.OpenFiles = make(map[int]*vfscontract.FileHandle, len(parent.OpenFiles))
	for fd, fh := range parent.OpenFiles {
		dup := *fh
		child.OpenFiles[fd] = &dup
	}

	child.KernelStackTop = stackBase + uintptr(sched.KernelStackSize)
	child.Context = task.InitForkedContext(child.KernelStackTop, trapRegs, 0)

	parent.Children = append(parent.Children, child.PID)
	task.Register(child)
	return child, nil
}

const (
	userImageBase  = 0x0000000000400000
	userStackBytes = 8 * 4096
)

// Execve replaces t's address space and register state with a freshly
// loaded program read from path through the active filesystem. argv
// and envp are laid out on the new user stack below the stack top in
// the conventional argc/argv/envp/NULL order. On any error before the
// address space is swapped, t is left completely untouched and the
// error is returned normally; after the swap there is no way back, so
// a failure past that point is reported to the caller only so it can
// kill the task, not so it can retry.
func Execve(t *task.Task, path string, argv, envp []string) *kernel.Error {
	fs := vfscontract.Active()
	if fs == nil {
		return errNoFS
	}

	node, kerr := fs.Resolve(path)
	if kerr != nil {
		return kerr
	}
	h, kerr := fs.Open(node, vfscontract.ReadOnly)
	if kerr != nil {
		return kerr
	}
	defer fs.Close(h)

	st, kerr := fs.Stat(node)
	if kerr != nil {
		return kerr
	}

	buf := make([]byte, st.Size)
	if _, kerr = fs.Read(h, 0, st.Size, buf); kerr != nil {
		return kerr
	}

	newPDT, kerr := newAddressSpaceFor(buf, userImageBase)
	if kerr != nil {
		return kerr
	}

	oldPDT := t.AddressSpace

	t.AddressSpace = newPDT
	t.PageDirPhys = newPDT.Frame()
	t.UserEntry = userImageBase
	t.UserStackTop = layoutArgvEnvp(newPDT, argv, envp)
	t.Context = task.InitUserProcessContext(t.KernelStackTop, t.UserEntry, t.UserStackTop)

	for fd, fh := range t.OpenFiles {
		if fh.Flags&vfscontract.CloseOnExec != 0 {
			fs.Close(fh.Handle)
			delete(t.OpenFiles, fd)
		}
	}

	// Switch to the new address space now, while still running inside
	// the syscall handler: CR3 must never be left pointing at oldPDT
	// once its frames start being handed back to the allocator below.
	newPDT.Activate()
	if oldPDT != nil {
		releaseAddressSpace(oldPDT)
	}

	return nil
}

// Exit marks t a Zombie, retaining only PID/ExitCode/Parent until its
// parent reaps it with Waitpid, releases its address space (dropping
// COW references instead of freeing shared frames outright), closes
// its open files and wakes its parent if one is waiting.
func Exit(t *task.Task, code int32) {
	t.ExitCode = code
	t.State = task.Zombie

	fs := vfscontract.Active()
	for fd, fh := range t.OpenFiles {
		if fs != nil {
			fs.Close(fh.Handle)
		}
		delete(t.OpenFiles, fd)
	}

	if t.AddressSpace != nil {
		vmm.ActivateKernelTemplate()
		releaseAddressSpace(t.AddressSpace)
		t.AddressSpace = nil
	}

	sched.Remove(t.PID)
	sched.WakeAll(waitQueueFor(t.Parent))
}

// Waitpid waits for a child of parent to exit. If pid is positive it
// waits for that specific child; if pid == -1 it waits for any child.
// When nohang is true and no matching child has exited yet, it returns
// immediately with found == false instead of blocking.
func Waitpid(parent *task.Task, pid task.PID, nohang bool) (childPID task.PID, status int32, found bool, err *kernel.Error) {
	for {
		if zpid, zstatus, ok := reapZombieChild(parent, pid); ok {
			return zpid, zstatus, true, nil
		}
		if !hasMatchingChild(parent, pid) {
			return 0, 0, false, errNoChild
		}
		if nohang {
			return 0, 0, false, nil
		}
		sched.BlockOn(waitQueueFor(parent.PID))
	}
}

func hasMatchingChild(parent *task.Task, pid task.PID) bool {
	for _, c := range parent.Children {
		if pid == -1 || c == pid {
			if _, ok := task.Lookup(c); ok {
				return true
			}
		}
	}
	return false
}

func reapZombieChild(parent *task.Task, pid task.PID) (task.PID, int32, bool) {
	for i, c := range parent.Children {
		if pid != -1 && c != pid {
			continue
		}
		child, ok := task.Lookup(c)
		if !ok || child.State != task.Zombie {
			continue
		}
		status := child.ExitCode
		parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
		task.Remove(c)
		return c, status, true
	}
	return 0, 0, false
}

// Kill terminates the task identified by pid with an exit code
// encoding signal, the minimal signal semantics this kernel supports:
// no queued delivery, no handlers, immediate termination.
func Kill(pid task.PID, signal int32) *kernel.Error {
	t, ok := task.Lookup(pid)
	if !ok {
		return errNoSuchProcess
	}
	const signalExitBase = 128
	Exit(t, signalExitBase+signal)
	return nil
}
