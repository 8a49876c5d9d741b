package ksync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitQueueFIFO(t *testing.T) {
	var q WaitQueue

	_, ok := q.Dequeue()
	assert.False(t, ok, "expected Dequeue on an empty queue to fail")

	q.Enqueue(PID(1))
	q.Enqueue(PID(2))
	q.Enqueue(PID(3))
	require.Equal(t, 3, q.Len())

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, PID(1), got)
	assert.Equal(t, 2, q.Len())
}

func TestWaitQueueDequeueAll(t *testing.T) {
	var q WaitQueue
	q.Enqueue(PID(1))
	q.Enqueue(PID(2))

	all := q.DequeueAll()
	assert.Equal(t, []PID{1, 2}, all)
	assert.Equal(t, 0, q.Len())
}

func TestWaitQueueRemove(t *testing.T) {
	var q WaitQueue
	q.Enqueue(PID(1))
	q.Enqueue(PID(2))
	q.Enqueue(PID(3))

	assert.True(t, q.Remove(PID(2)))
	assert.False(t, q.Remove(PID(2)), "expected a second removal of the same PID to fail")
	assert.Equal(t, 2, q.Len())

	first, _ := q.Dequeue()
	second, _ := q.Dequeue()
	assert.Equal(t, PID(1), first)
	assert.Equal(t, PID(3), second)
}
