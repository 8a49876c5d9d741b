package ksync

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinlock(t *testing.T) {
	defer func(orig func()) { yieldHint = orig }(yieldHint)
	yieldHint = runtime.Gosched

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
	)

	sl.Acquire()
	require.False(t, sl.TryAcquire(), "expected TryAcquire to fail while the lock is held")

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			sl.Acquire()
			sl.Release()
			wg.Done()
		}()
	}

	<-time.After(50 * time.Millisecond)
	sl.Release()
	wg.Wait()
}

func TestSpinlockLockIRQSave(t *testing.T) {
	defer func(origSave func() bool, origRestore func(bool)) {
		saveAndDisableFn = origSave
		restoreFn = origRestore
	}(saveAndDisableFn, restoreFn)

	var restoredWith *bool
	saveAndDisableFn = func() bool { return true }
	restoreFn = func(wasEnabled bool) { restoredWith = &wasEnabled }

	var sl Spinlock
	wasEnabled := sl.LockIRQSave()
	assert.True(t, wasEnabled)
	assert.False(t, sl.TryAcquire(), "expected the lock to still be held")

	sl.UnlockIRQRestore(wasEnabled)
	require.NotNil(t, restoredWith)
	assert.True(t, *restoredWith)
	assert.True(t, sl.TryAcquire(), "expected the lock to be released")
}
