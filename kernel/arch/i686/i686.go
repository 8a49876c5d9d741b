//go:build 386

// Package i686 implements arch.Traits for 32-bit x86 non-PAE paging: a
// single 2-level scheme (page directory -> page table), 10 index bits
// per level, 1024 entries per table.
package i686

import (
	"github.com/castorworks/CastorOS-sub004/kernel/arch"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
)

const (
	pageShift       = 12
	pageSize        = 1 << pageShift
	levels          = 2
	entriesPerTable = 1024
	entrySize       = 4

	kernelVirtualBase = 0xc0000000
	userSpaceStart    = 0x00001000
	userSpaceEnd      = 0xbfffffff

	physAddrMask = uint32(0xfffff000)

	bitPresent = 1 << 0
	bitWrite   = 1 << 1
	bitUser    = 1 << 2
	bitPWT     = 1 << 3
	bitPCD     = 1 << 4
	bitAccess  = 1 << 5
	bitDirty   = 1 << 6
	bitHuge    = 1 << 7
	bitGlobal  = 1 << 8
	bitCOW     = 1 << 9
)

var shifts = [levels]uint{22, 12}

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

// SupportsNX is false: non-PAE i686 page table entries have no execute-
// disable bit, so arch.FlagExec is dropped by EncodePTE and never set by
// DecodePTE.
func (traits) SupportsNX() bool        { return false }
func (traits) SupportsHugePages() bool { return true }

func (traits) EncodePTE(frame pmm.Frame, flags arch.PteFlags) uint64 {
	raw := uint32(frame.Address()) & physAddrMask

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
	// FlagExec is a no-op: there is no NX bit to clear on this target.

	return uint64(raw)
}

func (traits) DecodePTE(raw64 uint64) (pmm.Frame, arch.PteFlags) {
	raw := uint32(raw64)
	frame := pmm.Frame((raw & physAddrMask) >> pageShift)

	// Exec has no encoding on non-NX hardware, so it is never reported.
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

	return frame, flags
}

func (traits) Index(virt uintptr, level arch.Level) uint {
	return uint((uint32(virt) >> shifts[level]) & (entriesPerTable - 1))
}

func (traits) Shift(level arch.Level) uint {
	return shifts[level]
}

// SyscallArgs reads the Linux i386 int 0x80 convention: ebx, ecx, edx, esi,
// edi, ebp.
func (traits) SyscallArgs(raw *arch.TrapRegs) [6]uintptr {
	const ebx, ecx, edx, esi, edi, ebp = 0, 1, 2, 3, 4, 5
	return [6]uintptr{
		uintptr(raw.Raw[ebx]),
		uintptr(raw.Raw[ecx]),
		uintptr(raw.Raw[edx]),
		uintptr(raw.Raw[esi]),
		uintptr(raw.Raw[edi]),
		uintptr(raw.Raw[ebp]),
	}
}

func (traits) SyscallNumber(raw *arch.TrapRegs) uint64 {
	const eax = 6
	return raw.Raw[eax]
}

func (traits) SetSyscallReturn(raw *arch.TrapRegs, ret int64) {
	const eax = 6
	raw.Raw[eax] = uint64(ret)
}
