package sched

import (
	"testing"

	"github.com/castorworks/CastorOS-sub004/kernel/ksync"
	"github.com/castorworks/CastorOS-sub004/kernel/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetForTest clears all package state and installs a switchFn that
// records the transition instead of touching cpu.SwitchContext, which
// has no portable implementation to link against in a unit test.
func resetForTest(t *testing.T) (switches *[][2]task.PID) {
	t.Helper()

	ready = nil
	idle = task.NewTask()
	idle.State = task.Running
	task.Register(idle)
	current = idle

	recorded := &[][2]task.PID{}
	switchFn = func(from, to *task.Task) {
		*recorded = append(*recorded, [2]task.PID{from.PID, to.PID})
	}
	t.Cleanup(func() { switchFn = task.Switch })

	return recorded
}

func newTask(t *testing.T) *task.Task {
	t.Helper()
	tk := task.NewTask()
	task.Register(tk)
	return tk
}

func TestYieldNowWithAnotherReadyTaskSwitchesToIt(t *testing.T) {
	switches := resetForTest(t)

	a := newTask(t)
	current = a
	b := newTask(t)
	AddReady(b)

	YieldNow()

	require.Len(t, *switches, 1)
	assert.Equal(t, a.PID, (*switches)[0][0])
	assert.Equal(t, b.PID, (*switches)[0][1])
	assert.Equal(t, task.Running, b.State)
	// a went back onto the ready tail instead of being dropped.
	assert.Equal(t, task.Ready, a.State)
	assert.Equal(t, []task.PID{a.PID}, ready)
}

func TestYieldNowAsSoleReadyTaskIsNoopSwitch(t *testing.T) {
	switches := resetForTest(t)

	a := newTask(t)
	current = a

	YieldNow()

	assert.Empty(t, *switches, "yielding with no other ready task should not call switchFn")
	assert.Equal(t, task.Running, a.State)
}

func TestBlockOnWithNoOtherReadyTaskFallsBackToIdle(t *testing.T) {
	switches := resetForTest(t)

	a := newTask(t)
	current = a

	var wq ksync.WaitQueue
	BlockOn(&wq)

	require.Len(t, *switches, 1)
	assert.Equal(t, idle.PID, (*switches)[0][1])
	assert.Equal(t, task.Blocked, a.State)
	assert.Equal(t, 1, wq.Len())
}

func TestWakeMovesBlockedTaskToReady(t *testing.T) {
	resetForTest(t)

	a := newTask(t)
	a.State = task.Blocked

	Wake(a.PID)

	assert.Equal(t, task.Ready, a.State)
	assert.Equal(t, []task.PID{a.PID}, ready)
}

func TestWakeOnNonBlockedTaskIsNoop(t *testing.T) {
	resetForTest(t)

	a := newTask(t)
	a.State = task.Running

	Wake(a.PID)

	assert.Equal(t, task.Running, a.State)
	assert.Empty(t, ready)
}

func TestWakeAllDrainsWaitQueue(t *testing.T) {
	resetForTest(t)

	a := newTask(t)
	b := newTask(t)
	a.State = task.Blocked
	b.State = task.Blocked

	var wq ksync.WaitQueue
	wq.Enqueue(a.PID)
	wq.Enqueue(b.PID)

	WakeAll(&wq)

	assert.Equal(t, task.Ready, a.State)
	assert.Equal(t, task.Ready, b.State)
	assert.Equal(t, 0, wq.Len())
}

func TestTickDecrementsTimeSliceWithoutPreemptingEarly(t *testing.T) {
	switches := resetForTest(t)

	a := newTask(t)
	a.TimeSlice = 2
	current = a

	Tick()

	assert.Empty(t, *switches)
	assert.EqualValues(t, 1, a.TimeSlice)
}

func TestTickPreemptsOnTimeSliceExhaustion(t *testing.T) {
	switches := resetForTest(t)

	a := newTask(t)
	a.TimeSlice = 1
	current = a

	b := newTask(t)
	AddReady(b)

	Tick()

	require.Len(t, *switches, 1)
	assert.Equal(t, b.PID, (*switches)[0][1])
	assert.EqualValues(t, task.DefaultTimeSlice, a.TimeSlice, "a's slice is refilled once it goes back to Ready")
}

func TestTickOnIdleNeverPreempts(t *testing.T) {
	switches := resetForTest(t)
	current = idle

	Tick()
	Tick()

	assert.Empty(t, *switches)
}

func TestRemoveDropsFromReadyQueue(t *testing.T) {
	resetForTest(t)

	a := newTask(t)
	b := newTask(t)
	AddReady(a)
	AddReady(b)

	Remove(a.PID)

	assert.Equal(t, []task.PID{b.PID}, ready)
}
