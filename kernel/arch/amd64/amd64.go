//go:build amd64

// Package amd64 implements arch.Traits for the x86_64 4-level paging scheme
// (PML4 -> PDPT -> PD -> PT), 9 index bits per level, canonical split
// between user and kernel halves.
package amd64

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

	// kernelVirtualBase is the start of the canonical higher half.
	kernelVirtualBase = 0xffff800000000000
	userSpaceStart    = 0x0000000000001000
	userSpaceEnd      = 0x00007ffffffff000

	physAddrMask = uint64(0x000ffffffffff000)

	bitPresent = 1 << 0
	bitWrite   = 1 << 1
	bitUser    = 1 << 2
	bitPWT     = 1 << 3
	bitPCD     = 1 << 4
	bitAccess  = 1 << 5
	bitDirty   = 1 << 6
	bitHuge    = 1 << 7
	bitGlobal  = 1 << 8
	// bitCOW occupies one of the three bits (9-11) the architecture leaves
	// available for OS use.
	bitCOW = 1 << 9
	bitNX  = 1 << 63
)

var shifts = [levels]uint{39, 30, 21, 12}

type traits struct{}

func init() {
	arch.Active = traits{}
}

func (traits) PageSize() uint64         { return pageSize }
func (traits) PageShift() uint          { return pageShift }
func (traits) Levels() uint8            { return levels }
func (traits) EntriesPerTable() uint    { return entriesPerTable }
func (traits) EntrySize() uint          { return entrySize }
func (traits) KernelVirtualBase() uintptr { return kernelVirtualBase }
func (traits) UserSpaceStart() uintptr  { return userSpaceStart }
func (traits) UserSpaceEnd() uintptr    { return userSpaceEnd }
func (traits) SupportsNX() bool         { return true }
func (traits) SupportsHugePages() bool  { return true }

func (traits) EncodePTE(frame pmm.Frame, flags arch.PteFlags) uint64 {
	raw := uint64(frame.Address()) & physAddrMask

	if flags&arch.FlagPresent != 0 {
		raw |= bitPresent
	}
	if flags&arch.FlagWrite != 0 {
		raw |= bitWrite
	}
	if flags&arch.FlagUser != 0 {
		raw |= bitUser
	}
	if flags&arch.FlagNoCache != 0 {
		raw |= bitPCD
	}
	if flags&arch.FlagAccessed != 0 {
		raw |= bitAccess
	}
	if flags&arch.FlagDirty != 0 {
		raw |= bitDirty
	}
	if flags&arch.FlagHuge != 0 {
		raw |= bitHuge
	}
	if flags&arch.FlagGlobal != 0 {
		raw |= bitGlobal
	}
	if flags&arch.FlagCOW != 0 {
		raw |= bitCOW
	}
	if flags&arch.FlagExec == 0 {
		// NX is inverted: the bit must be set to *forbid* execution.
		raw |= bitNX
	}

	return raw
}

func (traits) DecodePTE(raw uint64) (pmm.Frame, arch.PteFlags) {
	frame := pmm.Frame((raw & physAddrMask) >> pageShift)

	var flags arch.PteFlags
	if raw&bitPresent != 0 {
		flags |= arch.FlagPresent
	}
	if raw&bitWrite != 0 {
		flags |= arch.FlagWrite
	}
	if raw&bitUser != 0 {
		flags |= arch.FlagUser
	}
	if raw&bitPCD != 0 {
		flags |= arch.FlagNoCache
	}
	if raw&bitAccess != 0 {
		flags |= arch.FlagAccessed
	}
	if raw&bitDirty != 0 {
		flags |= arch.FlagDirty
	}
	if raw&bitHuge != 0 {
		flags |= arch.FlagHuge
	}
	if raw&bitGlobal != 0 {
		flags |= arch.FlagGlobal
	}
	if raw&bitCOW != 0 {
		flags |= arch.FlagCOW
	}
	if raw&bitNX == 0 {
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

// SyscallArgs reads the System V AMD64 syscall convention: rdi, rsi, rdx,
// r10 (not rcx, which the SYSCALL instruction clobbers), r8, r9. The
// Raw layout is the one kernel/syscall's toTrapRegs builds: Raw[0..5]
// hold rdi, rsi, rdx, r10, r8, r9 and Raw[6] holds rax.
func (traits) SyscallArgs(raw *arch.TrapRegs) [6]uintptr {
	const rdi, rsi, rdx, r10, r8, r9 = 0, 1, 2, 3, 4, 5
	return [6]uintptr{
		uintptr(raw.Raw[rdi]),
		uintptr(raw.Raw[rsi]),
		uintptr(raw.Raw[rdx]),
		uintptr(raw.Raw[r10]),
		uintptr(raw.Raw[r8]),
		uintptr(raw.Raw[r9]),
	}
}

func (traits) SyscallNumber(raw *arch.TrapRegs) uint64 {
	const rax = 6
	return raw.Raw[rax]
}

func (traits) SetSyscallReturn(raw *arch.TrapRegs, ret int64) {
	const rax = 6
	raw.Raw[rax] = uint64(ret)
}
