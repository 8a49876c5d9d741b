//go:build arm64

// Package arm64 implements arch.Traits for AArch64 with 4 KiB granules and
// a 4-level translation table walk (identical entry count/shape to amd64's
// long mode, but with ARM's own descriptor bit layout and a split TTBR0
// user / TTBR1 kernel address space instead of a canonical-hole split).
package arm64

import (
	"github.com/castorworks/CastorOS-sub004/kernel/arch"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
)

const (
	pageShift       = 12
	pageSize        = 1 << pageShift
	levels          = 4
	entriesPerTable = 512
	entrySize       = 8

	// CastorOS keeps the kernel mapped through TTBR1_EL1, which starts at
	// the top of the 48-bit virtual address space.
	kernelVirtualBase = 0xffff000000000000
	userSpaceStart    = 0x0000000000001000
	userSpaceEnd      = 0x0000ffffffffffff

	physAddrMask = uint64(0x0000fffffffff000)

	// ARM64 descriptor bits (table/page descriptor, stage 1).
	bitValid     = 1 << 0
	bitTable     = 1 << 1 // also "page" bit at the leaf level
	bitAF        = 1 << 10
	bitDirty     = 1 << 51 // software-defined dirty bit, mirrors DBM convention
	bitCOW       = 1 << 55 // software-defined, in the ignored [58:55] range
	bitContig    = 1 << 52
	bitPXN       = 1 << 53 // privileged execute-never
	bitUXN       = 1 << 54 // unprivileged execute-never
	bitAPRO      = 1 << 7  // AP[2]: 1 = read-only
	bitAPEL0     = 1 << 6  // AP[1]: 1 = accessible from EL0 (user)
	bitNonCache  = 2 << 2  // AttrIndx pointing at the Device-nGnRnE MAIR slot
	bitShareable = 3 << 8  // inner shareable
)

var shifts = [levels]uint{39, 30, 21, 12}

type traits struct{}

func init() {
	arch.Active = traits{}
}

func (traits) PageSize() uint64           { return pageSize }
func (traits) PageShift() uint            { return pageShift }
func (traits) Levels() uint8              { return levels }
func (traits) EntriesPerTable() uint      { return entriesPerTable }
func (traits) EntrySize() uint            { return entrySize }
func (traits) KernelVirtualBase() uintptr { return kernelVirtualBase }
func (traits) UserSpaceStart() uintptr    { return userSpaceStart }
func (traits) UserSpaceEnd() uintptr      { return userSpaceEnd }
func (traits) SupportsNX() bool           { return true }
func (traits) SupportsHugePages() bool    { return true }

func (traits) EncodePTE(frame pmm.Frame, flags arch.PteFlags) uint64 {
	raw := uint64(frame.Address()) & physAddrMask

	if flags&arch.FlagPresent != 0 {
		raw |= bitValid | bitTable | bitAF | bitShareable
	}
	if flags&arch.FlagWrite == 0 {
		raw |= bitAPRO
	}
	if flags&arch.FlagUser != 0 {
		raw |= bitAPEL0
	}
	if flags&arch.FlagNoCache != 0 {
		raw |= bitNonCache
	}
	if flags&arch.FlagDirty != 0 {
		raw |= bitDirty
	}
	if flags&arch.FlagHuge != 0 {
		// A block descriptor clears the table bit at a non-leaf level;
		// the walker is responsible for choosing the right descriptor
		// shape per level, this flag only records the intent.
		raw &^= bitTable
	}
	if flags&arch.FlagCOW != 0 {
		raw |= bitCOW
	}
	if flags&arch.FlagExec == 0 {
		raw |= bitPXN | bitUXN
	}

	return raw
}

func (traits) DecodePTE(raw uint64) (pmm.Frame, arch.PteFlags) {
	frame := pmm.Frame((raw & physAddrMask) >> pageShift)

	var flags arch.PteFlags
	if raw&bitValid != 0 {
		flags |= arch.FlagPresent
	}
	if raw&bitAPRO == 0 {
		flags |= arch.FlagWrite
	}
	if raw&bitAPEL0 != 0 {
		flags |= arch.FlagUser
	}
	if raw&bitNonCache == bitNonCache {
		flags |= arch.FlagNoCache
	}
	if raw&bitAF != 0 {
		flags |= arch.FlagAccessed
	}
	if raw&bitDirty != 0 {
		flags |= arch.FlagDirty
	}
	if raw&bitTable == 0 {
		flags |= arch.FlagHuge
	}
	if raw&bitCOW != 0 {
		flags |= arch.FlagCOW
	}
	if raw&(bitPXN|bitUXN) == 0 {
		flags |= arch.FlagExec
	}

	return frame, flags
}

func (traits) Index(virt uintptr, level arch.Level) uint {
	return uint((uint64(virt) >> shifts[level]) & (entriesPerTable - 1))
}

func (traits) Shift(level arch.Level) uint {
	return shifts[level]
}

// SyscallArgs reads the AArch64 SVC convention: x0-x5.
func (traits) SyscallArgs(raw *arch.TrapRegs) [6]uintptr {
	return [6]uintptr{
		uintptr(raw.Raw[0]),
		uintptr(raw.Raw[1]),
		uintptr(raw.Raw[2]),
		uintptr(raw.Raw[3]),
		uintptr(raw.Raw[4]),
		uintptr(raw.Raw[5]),
	}
}

func (traits) SyscallNumber(raw *arch.TrapRegs) uint64 {
	const x8 = 8
	return raw.Raw[x8]
}

func (traits) SetSyscallReturn(raw *arch.TrapRegs, ret int64) {
	const x0 = 0
	raw.Raw[x0] = uint64(ret)
}
