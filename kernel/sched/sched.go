// Package sched implements round-robin task scheduling: a ready queue,
// the currently running task, block/wake through kernel/ksync wait
// queues, and tick-driven preemption. It is the package that finally
// gives kernel/ksync's yield/IRQ/block hooks and kernel/task's
// Context.Switch something real to call.
package sched

import (
	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
	"github.com/castorworks/CastorOS-sub004/kernel/ksync"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/heap"
	"github.com/castorworks/CastorOS-sub004/kernel/task"
)

var (
	lock ksync.Spinlock

	ready   []task.PID
	current *task.Task

	idle *task.Task

	// switchFn is task.Switch, overridden in tests so the ready-queue
	// and block/wake bookkeeping can be exercised without reaching
	// cpu.SwitchContext, which has no portable implementation.
	switchFn = task.Switch
)

// KernelStackSize is the size, in bytes, of the heap-backed stack
// allocated for every kernel thread this package spawns.
const KernelStackSize = 4 * mem.PageSize

// NewKernelThread allocates a kernel stack, builds a Context that
// resumes into entry on first switch, registers the task and returns
// it in state New (the caller decides when to call AddReady). Returns
// an error if the kernel stack allocation fails.
func NewKernelThread(entry func()) (*task.Task, *kernel.Error) {
	stackBase, err := heap.KMalloc(KernelStackSize, 0)
	if err != nil {
		return nil, err
	}

	t := task.NewTask()
	t.KernelStackTop = stackBase + uintptr(KernelStackSize)
	t.Context = task.InitKernelThreadContext(t.KernelStackTop, entry)
	task.Register(t)
	return t, nil
}

// Init installs this package's yield/IRQ/block hooks into kernel/ksync
// so Spinlock.Acquire, Spinlock.LockIRQSave and Mutex can all route
// through the real scheduler instead of the no-op defaults ksync starts
// with. idleEntry is run by the idle task whenever no other task is
// Ready; it must never return.
func Init(idleEntry func()) *kernel.Error {
	ksync.SetYieldHint(YieldNow)
	ksync.SetIRQHooks(irq.SaveAndDisable, irq.Restore)
	ksync.SetSchedulerHooks(blockOn, wakeOne)

	t, err := NewKernelThread(idleEntry)
	if err != nil {
		return err
	}
	idle = t
	idle.State = task.Running
	current = idle
	return nil
}

// Current returns the task presently running on this CPU.
func Current() *task.Task {
	return current
}

// AddReady puts t at the tail of the ready queue in state Ready. Used
// both for brand-new tasks and for a task returning from Blocked.
func AddReady(t *task.Task) {
	lock.Acquire()
	t.State = task.Ready
	ready = append(ready, t.PID)
	lock.Release()
}

// Remove drops pid from the ready queue, if present. Used when a task
// exits or is killed before ever running again.
func Remove(pid task.PID) {
	lock.Acquire()
	for i, p := range ready {
		if p == pid {
			ready = append(ready[:i], ready[i+1:]...)
			break
		}
	}
	lock.Release()
}

// pickNext removes and returns the head of the ready queue, or the
// idle task if the ready queue is empty. Caller holds lock.
func pickNext() *task.Task {
	for len(ready) > 0 {
		pid := ready[0]
		ready = ready[1:]
		if t, ok := task.Lookup(pid); ok && t != idle {
			return t
		}
	}
	return idle
}

// switchTo moves from Running, refills its time slice if it is going
// back onto the ready queue, picks the next task and context-switches
// into it. switchTo takes lock itself and releases it once the switch
// target is decided, since Context.Switch must run without it held (the
// next task to run releases no lock on our behalf).
func switchTo(nextState task.State, wq *ksync.WaitQueue) {
	lock.Acquire()

	prev := current
	prev.State = nextState
	if nextState == task.Ready && prev != idle {
		prev.TimeSlice = task.DefaultTimeSlice
		ready = append(ready, prev.PID)
	} else if nextState == task.Blocked && wq != nil {
		wq.Enqueue(prev.PID)
	}

	next := pickNext()
	next.State = task.Running
	current = next

	lock.Release()

	if next != prev {
		switchFn(prev, next)
	}
}

// YieldNow moves the current task to the Ready tail and switches to
// whichever task the scheduler picks next (the idle task if none other
// is Ready). It is what Spinlock.Acquire calls after spinning for a
// while without success.
func YieldNow() {
	switchTo(task.Ready, nil)
}

// BlockOn moves the current task to Blocked, enqueues it on wq and
// switches to another task. It returns only once something has called
// Wake on this task.
func BlockOn(wq *ksync.WaitQueue) {
	switchTo(task.Blocked, wq)
}

// blockOn adapts BlockOn to the func(*ksync.WaitQueue) shape
// ksync.SetSchedulerHooks expects.
func blockOn(wq *ksync.WaitQueue) {
	BlockOn(wq)
}

// Die switches away from the current task permanently: unlike
// YieldNow it never rejoins the ready queue. Callers use it after
// proc.Exit has already marked the task Zombie and called sched.Remove
// on it, to finish unwinding the exit syscall without ever returning
// to the exiting task's kernel stack.
func Die() {
	switchTo(task.Zombie, nil)
}

// Wake moves pid from Blocked to Ready, if it is currently registered
// and blocked. Waking a task that isn't blocked (already Ready,
// Running or a reaped Zombie) has no effect.
func Wake(pid task.PID) {
	t, ok := task.Lookup(pid)
	if !ok || t.State != task.Blocked {
		return
	}
	AddReady(t)
}

// wakeOne dequeues at most one PID from wq and wakes it, adapting to
// the func(*ksync.WaitQueue) shape ksync.SetSchedulerHooks expects.
func wakeOne(wq *ksync.WaitQueue) {
	pid, ok := wq.Dequeue()
	if !ok {
		return
	}
	Wake(pid)
}

// WakeAll wakes every task currently queued on wq, used for
// broadcast-style wakeups (e.g. a condition every waiter must
// re-check).
func WakeAll(wq *ksync.WaitQueue) {
	for _, pid := range wq.DequeueAll() {
		Wake(pid)
	}
}

// Tick is called from the timer IRQ handler once per timer interrupt.
// It decrements the running task's time slice and preempts it via
// YieldNow once the slice is exhausted; the idle task is never charged
// a time slice since it always yields immediately when picked again.
func Tick() {
	if current == idle {
		return
	}
	current.TimeSlice--
	if current.TimeSlice <= 0 {
		YieldNow()
	}
}
