package syscall

import (
	"encoding/binary"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
	"github.com/castorworks/CastorOS-sub004/kernel/task"
	"github.com/castorworks/CastorOS-sub004/kernel/timekeeper"
)

// Linux amd64's numbers again, the same neutral convention handlers.go
// already uses for the process group.
const (
	sysTime      = 201
	sysNanosleep = 35
)

// timespecSize is the wire layout nanosleep's user-memory struct uses:
// two little-endian 8-byte fields, {tv_sec, tv_nsec}.
const timespecSize = 16

// sleepFn points at timekeeper.Sleep; overridden in tests so
// handleNanosleep can be exercised without a real scheduler to block
// the calling task against.
var sleepFn = timekeeper.Sleep

// RegisterTimeHandlers installs the time/nanosleep handlers backed by
// kernel/timekeeper. Called once from kernel/kmain during boot,
// alongside RegisterProcessHandlers.
func RegisterTimeHandlers() {
	Register(sysTime, handleTime)
	Register(sysNanosleep, handleNanosleep)
}

// handleTime returns whole seconds of uptime (this kernel has no
// wall-clock / RTC source, only ticks since Init) and, if addr is
// nonzero, also writes it there the way the real time(2) does.
func handleTime(_ *task.Task, _ *irq.Regs, args [6]uintptr) (int64, *kernel.Error) {
	seconds := int64(timekeeper.UptimeMS() / 1000)
	if args[0] != 0 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(seconds))
		if err := CopyOut(args[0], buf[:]); err != nil {
			return 0, err
		}
	}
	return seconds, nil
}

// handleNanosleep reads a {tv_sec, tv_nsec} timespec out of user
// memory, blocks the caller for that long via timekeeper.Sleep, and if
// woken early writes the remaining time back into the optional second
// timespec pointer.
func handleNanosleep(_ *task.Task, _ *irq.Regs, args [6]uintptr) (int64, *kernel.Error) {
	var req [timespecSize]byte
	if err := CopyIn(args[0], req[:]); err != nil {
		return 0, err
	}
	sec := binary.LittleEndian.Uint64(req[0:8])
	nsec := binary.LittleEndian.Uint64(req[8:16])
	ms := sec*1000 + nsec/1_000_000

	remainingMS := sleepFn(uint32(ms))

	if remainingMS > 0 && args[1] != 0 {
		var rem [timespecSize]byte
		binary.LittleEndian.PutUint64(rem[0:8], uint64(remainingMS/1000))
		binary.LittleEndian.PutUint64(rem[8:16], uint64(remainingMS%1000)*1_000_000)
		if err := CopyOut(args[1], rem[:]); err != nil {
			return 0, err
		}
	}
	return 0, nil
}
