// Package timekeeper turns the platform timer's tick IRQ into uptime,
// timed sleep and periodic callbacks. It owns none of the timer
// hardware itself — a kernel/drivercontract.Timer is installed through
// drivercontract.SetTimer — it only consumes the tick
// through drivercontract.OnTick and fans out from there.
package timekeeper

import (
	"github.com/castorworks/CastorOS-sub004/kernel/drivercontract"
	"github.com/castorworks/CastorOS-sub004/kernel/ksync"
	"github.com/castorworks/CastorOS-sub004/kernel/sched"
	"github.com/castorworks/CastorOS-sub004/kernel/task"
)

// maxTimers bounds the periodic-callback table, which is sized up front
// instead of growing a slice under a spinlock forever.
const maxTimers = 64

// TimerID names a slot returned by RegisterTimer, used later to cancel
// it with CancelTimer.
type TimerID int32

// timerEntry is one slot of the periodic-callback table. A nil
// callback marks the slot free. periodTicks == 0 means one-shot: the
// slot is freed instead of rescheduled once it fires.
type timerEntry struct {
	callback    func()
	fireTick    uint64
	periodTicks uint64
}

// sleeper is one blocked sleep(), kept in wake-tick order so onTick
// only has to look at the head of the slice to know whether anything
// is due.
type sleeper struct {
	pid      task.PID
	wakeTick uint64
}

var (
	lock ksync.Spinlock

	hz    uint32
	ticks uint64

	timers [maxTimers]timerEntry
	active [maxTimers]bool

	sleepers []sleeper
	sleepWQ  ksync.WaitQueue
)

// Init programs the installed drivercontract.Timer at hz and wires its
// tick callback to this package's onTick. Reports false if no timer
// driver has been installed yet (drivercontract.SetTimer not called),
// matching drivercontract.Init's own signature.
func Init(targetHz uint32) (ok bool, err error) {
	lock.Acquire()
	hz = targetHz
	ticks = 0
	lock.Release()

	ok, err = drivercontract.Init(targetHz)
	if !ok || err != nil {
		return ok, err
	}
	drivercontract.OnTick(onTick)
	return true, nil
}

// onTick runs inside the timer IRQ handler, interrupts already
// disabled: it advances the tick counter, wakes any sleeper whose
// wake-tick has arrived, fires due periodic callbacks, then hands off
// to sched.Tick for preemption. Registered callbacks must be short,
// matching the ordering guarantee the rest of this kernel promises for
// in-IRQ work.
func onTick() {
	lock.Acquire()
	ticks++
	now := ticks
	due := popDueSleepersLocked(now)
	fired := popDueTimersLocked(now)
	lock.Release()

	for _, pid := range due {
		sleepWQ.Remove(pid)
		sched.Wake(pid)
	}
	for _, cb := range fired {
		cb()
	}

	sched.Tick()
}

// popDueSleepersLocked removes and returns every sleeper whose
// wake-tick is at or before now. Caller holds lock.
func popDueSleepersLocked(now uint64) []task.PID {
	i := 0
	for i < len(sleepers) && sleepers[i].wakeTick <= now {
		i++
	}
	if i == 0 {
		return nil
	}
	due := make([]task.PID, i)
	for j := 0; j < i; j++ {
		due[j] = sleepers[j].pid
	}
	sleepers = sleepers[i:]
	return due
}

// popDueTimersLocked returns the callbacks of every timer entry due at
// now, rescheduling periodic ones and freeing one-shot ones. Caller
// holds lock.
func popDueTimersLocked(now uint64) []func() {
	var fired []func()
	for i := range timers {
		if !active[i] || timers[i].fireTick > now {
			continue
		}
		fired = append(fired, timers[i].callback)
		if timers[i].periodTicks == 0 {
			active[i] = false
			timers[i] = timerEntry{}
			continue
		}
		timers[i].fireTick = now + timers[i].periodTicks
	}
	return fired
}

// Ticks returns the number of timer interrupts observed since Init.
func Ticks() uint64 {
	lock.Acquire()
	defer lock.Release()
	return ticks
}

// UptimeMS returns milliseconds elapsed since Init, derived from the
// tick count and the configured frequency.
func UptimeMS() uint64 {
	lock.Acquire()
	h, t := hz, ticks
	lock.Release()
	if h == 0 {
		return 0
	}
	return t * 1000 / uint64(h)
}

// msToTicks converts a millisecond duration to a tick count, rounding
// up so a sleep never returns before the requested time has elapsed.
func msToTicks(ms uint32) uint64 {
	if hz == 0 {
		return 0
	}
	return (uint64(ms)*uint64(hz) + 999) / 1000
}

// Sleep blocks the calling task for at least ms milliseconds, inserted
// into the sleep list in wake-tick order, then returns the number of
// milliseconds short of the full duration the caller actually slept:
// 0 on a normal wake-up, nonzero if CancelSleep woke it early.
func Sleep(ms uint32) uint32 {
	if ms == 0 {
		return 0
	}
	self := sched.Current().PID

	lock.Acquire()
	wakeAt := ticks + msToTicks(ms)
	insertSleeperLocked(sleeper{pid: self, wakeTick: wakeAt})
	lock.Release()

	sched.BlockOn(&sleepWQ)

	lock.Acquire()
	now := ticks
	lock.Release()
	if now >= wakeAt {
		return 0
	}
	remainingTicks := wakeAt - now
	if hz == 0 {
		return 0
	}
	return uint32(remainingTicks * 1000 / uint64(hz))
}

// insertSleeperLocked inserts s into sleepers keeping the slice sorted
// by wakeTick ascending. Caller holds lock.
func insertSleeperLocked(s sleeper) {
	i := 0
	for i < len(sleepers) && sleepers[i].wakeTick <= s.wakeTick {
		i++
	}
	sleepers = append(sleepers, sleeper{})
	copy(sleepers[i+1:], sleepers[i:])
	sleepers[i] = s
}

// CancelSleep wakes pid before its sleep would otherwise expire,
// shortening an in-progress nanosleep. Reports whether pid was actually found
// still sleeping.
func CancelSleep(pid task.PID) bool {
	lock.Acquire()
	found := -1
	for i, s := range sleepers {
		if s.pid == pid {
			found = i
			break
		}
	}
	if found == -1 {
		lock.Release()
		return false
	}
	sleepers = append(sleepers[:found], sleepers[found+1:]...)
	lock.Release()

	sleepWQ.Remove(pid)
	sched.Wake(pid)
	return true
}

// RegisterTimer installs callback to fire once after delayTicks timer
// interrupts, and every periodTicks ticks thereafter if periodTicks is
// nonzero. Returns the slot id CancelTimer needs, or ok=false if every
// slot is in use.
func RegisterTimer(callback func(), delayTicks, periodTicks uint64) (id TimerID, ok bool) {
	lock.Acquire()
	defer lock.Release()
	for i := range active {
		if !active[i] {
			active[i] = true
			timers[i] = timerEntry{callback: callback, fireTick: ticks + delayTicks, periodTicks: periodTicks}
			return TimerID(i), true
		}
	}
	return 0, false
}

// CancelTimer frees id's slot, if it is currently in use. Canceling an
// already-fired one-shot or an unknown id has no effect.
func CancelTimer(id TimerID) {
	if id < 0 || int(id) >= maxTimers {
		return
	}
	lock.Acquire()
	active[id] = false
	timers[id] = timerEntry{}
	lock.Release()
}
