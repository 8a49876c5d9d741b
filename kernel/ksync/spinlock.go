// Package ksync provides the kernel's low-level synchronization
// primitives: a spinlock with IRQ save/restore, a sleeping mutex and a
// PID-based wait queue. Mutex and WaitQueue never touch scheduling
// decisions directly; instead they call a pair of hooks installed by
// kernel/sched during its Init, the same install-a-hook-to-break-the-
// import-cycle shape gopher-os's sync package used for its own
// never-wired "yieldFn".
package ksync

import "sync/atomic"

// Spinlock is a single atomic flag. Acquire busy-waits; rather than a
// body-less arch-specific backoff routine, this one spins in portable
// Go and calls the optional yield hint after a bounded number of
// failed attempts so a uniprocessor build doesn't wedge the only CPU
// against itself forever while the lock holder is merely descheduled.
type Spinlock struct {
	state uint32
}

// yieldHint is called by Acquire after spinning for a while without
// success. It is nil until kernel/sched installs YieldNow via
// SetYieldHint, which happens during sched.Init.
var yieldHint func()

// SetYieldHint installs the function Acquire calls when it has to spin.
// kernel/sched calls this once during Init with its own YieldNow.
func SetYieldHint(fn func()) {
	yieldHint = fn
}

const spinsBeforeYield = 1000

// Acquire blocks until the lock can be acquired by the currently active
// task. Re-acquiring a lock already held by the current task deadlocks.
func (l *Spinlock) Acquire() {
	spins := 0
	for !l.TryAcquire() {
		spins++
		if spins >= spinsBeforeYield && yieldHint != nil {
			spins = 0
			yieldHint()
		}
	}
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *Spinlock) TryAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock. Calling Release while the lock is
// free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// saveAndDisableFn/restoreFn let tests substitute irq's package-level
// functions without ksync importing irq
// back (irq does not currently depend on ksync, but keeping the
// dependency one-directional via injected funcs matches how the rest of
// this codebase avoids import cycles between low-level packages).
var (
	saveAndDisableFn = func() bool { return true }
	restoreFn        = func(bool) {}
)

// SetIRQHooks installs the save/restore functions LockIRQSave and
// UnlockIRQRestore call. kernel/sched's Init wires these to
// irq.SaveAndDisable and irq.Restore during boot.
func SetIRQHooks(saveAndDisable func() bool, restore func(bool)) {
	saveAndDisableFn = saveAndDisable
	restoreFn = restore
}

// LockIRQSave acquires the lock and disables interrupts, returning
// whether interrupts were enabled beforehand. The held region must not
// block or allocate in a way that can block.
func (l *Spinlock) LockIRQSave() bool {
	wasEnabled := saveAndDisableFn()
	l.Acquire()
	return wasEnabled
}

// UnlockIRQRestore releases the lock and restores the interrupt state
// captured by the matching LockIRQSave.
func (l *Spinlock) UnlockIRQRestore(wasEnabled bool) {
	l.Release()
	restoreFn(wasEnabled)
}
