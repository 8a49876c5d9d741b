package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castorworks/CastorOS-sub004/kernel/ksync"
	"github.com/castorworks/CastorOS-sub004/kernel/task"
)

func newTestTask(t *testing.T) *task.Task {
	t.Helper()
	tk := task.NewTask()
	task.Register(tk)
	t.Cleanup(func() { task.Remove(tk.PID) })
	return tk
}

func resetChildExited(t *testing.T) {
	t.Helper()
	orig := childExited
	childExited = map[task.PID]*ksync.WaitQueue{}
	t.Cleanup(func() { childExited = orig })
}

func TestExitOnKernelThreadSkipsAddressSpaceTeardown(t *testing.T) {
	resetChildExited(t)
	parent := newTestTask(t)
	child := newTestTask(t)
	child.Parent = parent.PID
	parent.Children = append(parent.Children, child.PID)

	Exit(child, 7)

	assert.Equal(t, task.Zombie, child.State)
	assert.EqualValues(t, 7, child.ExitCode)
	assert.Nil(t, child.AddressSpace)
}

func TestWaitpidReapsMatchingZombieChild(t *testing.T) {
	resetChildExited(t)
	parent := newTestTask(t)
	child := newTestTask(t)
	child.Parent = parent.PID
	parent.Children = append(parent.Children, child.PID)

	Exit(child, 3)

	pid, status, found, err := Waitpid(parent, child.PID, true)
	require.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, child.PID, pid)
	assert.EqualValues(t, 3, status)

	_, stillThere := task.Lookup(child.PID)
	assert.False(t, stillThere, "reaped child should be deregistered")
}

func TestWaitpidAnyChildMatchesWildcard(t *testing.T) {
	resetChildExited(t)
	parent := newTestTask(t)
	child := newTestTask(t)
	child.Parent = parent.PID
	parent.Children = append(parent.Children, child.PID)

	Exit(child, 0)

	pid, _, found, err := Waitpid(parent, -1, true)
	require.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, child.PID, pid)
}

func TestWaitpidNoHangWithoutExitedChildReturnsNotFound(t *testing.T) {
	resetChildExited(t)
	parent := newTestTask(t)
	child := newTestTask(t)
	child.Parent = parent.PID
	parent.Children = append(parent.Children, child.PID)

	_, _, found, err := Waitpid(parent, child.PID, true)
	require.Nil(t, err)
	assert.False(t, found)
}

func TestWaitpidWithNoChildrenReturnsErrNoChild(t *testing.T) {
	resetChildExited(t)
	parent := newTestTask(t)

	_, _, found, err := Waitpid(parent, -1, true)
	assert.False(t, found)
	assert.Equal(t, errNoChild, err)
}

func TestHasMatchingChild(t *testing.T) {
	resetChildExited(t)
	parent := newTestTask(t)
	child := newTestTask(t)
	parent.Children = append(parent.Children, child.PID)

	assert.True(t, hasMatchingChild(parent, child.PID))
	assert.True(t, hasMatchingChild(parent, -1))
	assert.False(t, hasMatchingChild(parent, child.PID+100))
}

func TestReapZombieChildIgnoresNonZombie(t *testing.T) {
	resetChildExited(t)
	parent := newTestTask(t)
	child := newTestTask(t)
	child.State = task.Running
	parent.Children = append(parent.Children, child.PID)

	_, _, ok := reapZombieChild(parent, -1)
	assert.False(t, ok)
}

func TestKillTerminatesTargetWithSignalEncodedExitCode(t *testing.T) {
	resetChildExited(t)
	parent := newTestTask(t)
	target := newTestTask(t)
	target.Parent = parent.PID
	parent.Children = append(parent.Children, target.PID)

	require.Nil(t, Kill(target.PID, 9))

	assert.Equal(t, task.Zombie, target.State)
	assert.EqualValues(t, 137, target.ExitCode)
}

func TestKillUnknownPIDReturnsErrNoSuchProcess(t *testing.T) {
	err := Kill(task.PID(999999), 9)
	assert.Equal(t, errNoSuchProcess, err)
}

func TestExitWakesBlockedParent(t *testing.T) {
	resetChildExited(t)
	parent := newTestTask(t)
	child := newTestTask(t)
	child.Parent = parent.PID
	parent.Children = append(parent.Children, child.PID)

	parent.State = task.Blocked
	waitQueueFor(parent.PID).Enqueue(parent.PID)

	Exit(child, 1)

	assert.Equal(t, task.Ready, parent.State)
}
