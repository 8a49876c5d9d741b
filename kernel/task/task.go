// Package task defines the scheduling and protection unit and its PID
// arena, used in place of an intrusive pointer graph: tasks are looked
// up by integer PID through a package-level table, and every "pointer"
// between a task and a queue is really just a ksync.PID.
package task

import (
	"github.com/castorworks/CastorOS-sub004/kernel/ksync"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/vmm"
	"github.com/castorworks/CastorOS-sub004/kernel/vfscontract"
)

// PID is the integer task handle. It is a type alias (not a distinct
// named type) for ksync.PID so every package that blocks or wakes a
// task by PID shares the exact same representation without importing
// kernel/task back.
type PID = ksync.PID

// State is a task's position in its lifecycle.
type State uint8

const (
	New State = iota
	Ready
	Running
	Blocked
	Zombie
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// DefaultTimeSlice is the number of timer ticks a task runs before the
// scheduler preempts it.
const DefaultTimeSlice = 10

// Task is the scheduling and protection unit. State is mutated by
// kernel/sched and kernel/proc; OpenFiles and Cwd by kernel/proc.
type Task struct {
	PID  PID
	PPID PID

	State   State
	Context Context

	// KernelStackTop is the highest address of this task's kernel
	// stack, used both as the base Context is built against and as
	// the value published to the CPU for the next privilege
	// transition into this task.
	KernelStackTop uintptr

	// AddressSpace is nil for kernel threads, which run entirely in
	// the kernel half shared by every address space.
	AddressSpace *vmm.PageDirectoryTable
	PageDirPhys  pmm.Frame

	OpenFiles map[int]*vfscontract.FileHandle
	NextFD    int
	Cwd       string

	UserEntry    uintptr
	UserStackTop uintptr

	ExitCode  int32
	TimeSlice int32

	Parent   PID
	Children []PID
}

var (
	arenaLock ksync.Spinlock
	tasks     = map[PID]*Task{}
	nextPID   PID = 1
)

func allocPID() PID {
	arenaLock.Acquire()
	defer arenaLock.Release()
	pid := nextPID
	nextPID++
	return pid
}

// NewTask allocates a PID and returns a freshly initialized Task in
// state New. Callers (kernel-thread spawning, fork) fill in the
// remaining fields and a Context before calling Register.
func NewTask() *Task {
	return &Task{
		PID:       allocPID(),
		State:     New,
		OpenFiles: make(map[int]*vfscontract.FileHandle),
		TimeSlice: DefaultTimeSlice,
	}
}

// Register makes t visible to Lookup. Every task must be registered
// exactly once, immediately after construction.
func Register(t *Task) {
	arenaLock.Acquire()
	tasks[t.PID] = t
	arenaLock.Release()
}

// Lookup returns the task with the given PID, if one is currently
// registered (an unreaped zombie still counts).
func Lookup(pid PID) (*Task, bool) {
	arenaLock.Acquire()
	defer arenaLock.Release()
	t, ok := tasks[pid]
	return t, ok
}

// Remove deregisters pid, used once a zombie has been reaped by
// waitpid.
func Remove(pid PID) {
	arenaLock.Acquire()
	delete(tasks, pid)
	arenaLock.Release()
}

// Count reports the number of tasks currently registered (including
// unreaped zombies), used by tests and diagnostics.
func Count() int {
	arenaLock.Acquire()
	defer arenaLock.Release()
	return len(tasks)
}
