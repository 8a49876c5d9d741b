package ksync

// PID is the integer task handle used throughout the scheduler and
// synchronization primitives: an arena-of-tasks indexed by PID in place
// of intrusive pointer structures, so wait queues can hold plain PID
// lists. It lives here, one layer below kernel/task, so that ksync
// never has to import task back.
type PID int32

// NoPID is the zero value, never allocated to a real task.
const NoPID PID = 0

// WaitQueue is a FIFO of blocked tasks, identified by PID. It holds no
// opinion about what a PID means or how blocking/waking actually
// suspends or resumes a task; kernel/sched owns that and is the only
// package that mutates a WaitQueue's membership via BlockOn/Wake.
type WaitQueue struct {
	lock Spinlock
	pids []PID
}

// Enqueue appends pid to the tail of the queue.
func (q *WaitQueue) Enqueue(pid PID) {
	q.lock.Acquire()
	q.pids = append(q.pids, pid)
	q.lock.Release()
}

// Dequeue removes and returns the PID at the head of the queue.
func (q *WaitQueue) Dequeue() (PID, bool) {
	q.lock.Acquire()
	defer q.lock.Release()
	if len(q.pids) == 0 {
		return NoPID, false
	}
	pid := q.pids[0]
	q.pids = q.pids[1:]
	return pid, true
}

// DequeueAll removes and returns every PID currently queued, in FIFO
// order, used to implement wake_all.
func (q *WaitQueue) DequeueAll() []PID {
	q.lock.Acquire()
	defer q.lock.Release()
	pids := q.pids
	q.pids = nil
	return pids
}

// Len reports the number of tasks currently queued.
func (q *WaitQueue) Len() int {
	q.lock.Acquire()
	defer q.lock.Release()
	return len(q.pids)
}

// Remove drops pid from the queue if present, used when a blocked wait
// is abandoned (e.g. a signal-driven wake that isn't a queue-ordered
// wake_one). Reports whether pid was found.
func (q *WaitQueue) Remove(pid PID) bool {
	q.lock.Acquire()
	defer q.lock.Release()
	for i, p := range q.pids {
		if p == pid {
			q.pids = append(q.pids[:i], q.pids[i+1:]...)
			return true
		}
	}
	return false
}
