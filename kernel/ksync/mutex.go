package ksync

// blockOnFn/wakeOneFn are installed by kernel/sched during its Init.
// Mutex needs to suspend the calling task and resume a waiter without
// importing kernel/sched, which itself needs a Spinlock to guard its
// run queues — the same hook-injection shape gopher-os's sync package
// left as an unwired TODO, used here fully wired instead of stubbed.
var (
	blockOnFn func(wq *WaitQueue)
	wakeOneFn func(wq *WaitQueue)
)

// SetSchedulerHooks installs the scheduler operations Mutex needs.
// blockOn must move the calling task to Blocked, enqueue it on wq and
// switch to another task, returning only once the task has been woken.
// wakeOne must move at most one task off wq to Ready.
func SetSchedulerHooks(blockOn func(wq *WaitQueue), wakeOne func(wq *WaitQueue)) {
	blockOnFn = blockOn
	wakeOneFn = wakeOne
}

// Mutex is a sleeping lock: a task that finds it held blocks on the
// mutex's own wait queue instead of spinning.
type Mutex struct {
	guard  Spinlock
	locked bool
	queue  WaitQueue
}

// Lock blocks the calling task until the mutex can be acquired.
func (m *Mutex) Lock() {
	for {
		m.guard.Acquire()
		if !m.locked {
			m.locked = true
			m.guard.Release()
			return
		}
		m.guard.Release()

		// blockOnFn enqueues the caller on m.queue and only returns
		// once something has woken it; re-check m.locked on return
		// since a wake is just "try again", not a lock hand-off.
		blockOnFn(&m.queue)
	}
}

// Unlock releases the mutex and wakes at most one waiter.
func (m *Mutex) Unlock() {
	m.guard.Acquire()
	m.locked = false
	m.guard.Release()
	wakeOneFn(&m.queue)
}
