package syscall

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTimeReturnsWholeSecondsAndWritesThemOut(t *testing.T) {
	withFakeTraits(t, [6]uintptr{}, 0)
	stubLookupFlags(t, func(uintptr) bool { return true }, false)

	var out [8]byte
	addr := uintptr(unsafe.Pointer(&out[0]))

	ret, err := handleTime(nil, nil, [6]uintptr{addr})

	require.Nil(t, err)
	assert.GreaterOrEqual(t, ret, int64(0))
	assert.EqualValues(t, ret, binary.LittleEndian.Uint64(out[:]))
}

func TestHandleTimeSkipsWriteWhenAddrIsZero(t *testing.T) {
	withFakeTraits(t, [6]uintptr{}, 0)

	ret, err := handleTime(nil, nil, [6]uintptr{0})

	require.Nil(t, err)
	assert.GreaterOrEqual(t, ret, int64(0))
}

func TestHandleNanosleepSleepsRequestedDurationAndReturnsZero(t *testing.T) {
	withFakeTraits(t, [6]uintptr{}, 0)
	stubLookupFlags(t, func(uintptr) bool { return true }, false)

	orig := sleepFn
	var gotMS uint32
	sleepFn = func(ms uint32) uint32 {
		gotMS = ms
		return 0
	}
	t.Cleanup(func() { sleepFn = orig })

	var req [16]byte
	binary.LittleEndian.PutUint64(req[0:8], 2)
	binary.LittleEndian.PutUint64(req[8:16], 500_000_000)
	addr := uintptr(unsafe.Pointer(&req[0]))

	ret, err := handleNanosleep(nil, nil, [6]uintptr{addr, 0})

	require.Nil(t, err)
	assert.EqualValues(t, 0, ret)
	assert.EqualValues(t, 2500, gotMS)
}

func TestHandleNanosleepWritesRemainingTimeWhenWokenEarly(t *testing.T) {
	withFakeTraits(t, [6]uintptr{}, 0)
	stubLookupFlags(t, func(uintptr) bool { return true }, false)

	orig := sleepFn
	sleepFn = func(uint32) uint32 { return 1500 }
	t.Cleanup(func() { sleepFn = orig })

	var req [16]byte
	binary.LittleEndian.PutUint64(req[0:8], 5)
	addr := uintptr(unsafe.Pointer(&req[0]))

	var rem [16]byte
	remAddr := uintptr(unsafe.Pointer(&rem[0]))

	_, err := handleNanosleep(nil, nil, [6]uintptr{addr, remAddr})

	require.Nil(t, err)
	assert.EqualValues(t, 1, binary.LittleEndian.Uint64(rem[0:8]))
	assert.EqualValues(t, 500_000_000, binary.LittleEndian.Uint64(rem[8:16]))
}
