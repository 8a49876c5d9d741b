// Package arch defines the architecture-neutral contract that every other
// CORE package programs against. Only the per-architecture sub-packages
// (amd64, i686, arm64) contain body code that differs between targets; the
// rest of the kernel never imports runtime.GOARCH-specific types directly.
package arch

import "github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"

// PteFlags is the neutral flag set a page table entry can carry. Individual
// architectures translate these into their own encoding; flags the target
// architecture cannot represent are silently dropped by EncodePTE and never
// reappear from DecodePTE.
type PteFlags uint32

const (
	FlagPresent PteFlags = 1 << iota
	FlagWrite
	FlagUser
	FlagNoCache
	FlagAccessed
	FlagDirty
	FlagHuge
	FlagGlobal
	FlagCOW
	FlagExec
)

// Level identifies a page-table level, 0 being the root (top-most) table.
type Level uint8

// Traits is the compile-time architecture contract. A single instance
// is selected at link time via the per-arch sub-package's init(), and
// every higher-level package (vmm, task, syscall, irq) consumes it
// exclusively through this interface.
type Traits interface {
	// PageSize is the size, in bytes, of a single leaf mapping.
	PageSize() uint64
	// PageShift is log2(PageSize()).
	PageShift() uint
	// Levels is the number of page-table levels walked to resolve a leaf.
	Levels() uint8
	// EntriesPerTable is the number of entries in one page-table page.
	EntriesPerTable() uint
	// EntrySize is the size, in bytes, of a single raw page-table entry.
	EntrySize() uint

	// KernelVirtualBase is the first address of the kernel half of the
	// address space; it and everything above/below it (arch-dependent) is
	// shared, byte for byte, across every AddressSpace.
	KernelVirtualBase() uintptr
	// UserSpaceStart and UserSpaceEnd bound the range SyscallDispatcher
	// must validate every user pointer against.
	UserSpaceStart() uintptr
	UserSpaceEnd() uintptr

	// EncodePTE packs a physical frame and a neutral flag set into the
	// architecture's raw page-table-entry representation.
	EncodePTE(frame pmm.Frame, flags PteFlags) uint64
	// DecodePTE is the inverse of EncodePTE. The returned flag set is the
	// input flags intersected with whatever this architecture represents;
	// round-tripping an unrepresentable flag yields it cleared.
	DecodePTE(raw uint64) (pmm.Frame, PteFlags)

	// Index extracts the page-table index for the given level out of a
	// virtual address; the result is always in [0, EntriesPerTable()).
	Index(virt uintptr, level Level) uint
	// Shift returns the bit position of the virtual-address field consumed
	// by the given level (i.e. Index(virt, level) == (virt>>Shift(level))&mask).
	Shift(level Level) uint

	SupportsNX() bool
	SupportsHugePages() bool

	// SyscallArgs extracts up to six syscall arguments from a trap frame
	// using the architecture's declared ABI registers. Argument six
	// always comes from a register the ABI assigns to it, never from a
	// saved frame-pointer slot.
	SyscallArgs(raw *TrapRegs) [6]uintptr
	// SyscallNumber extracts the syscall number from a trap frame.
	SyscallNumber(raw *TrapRegs) uint64
	// SetSyscallReturn stores ret into the trap frame's return-value slot.
	SetSyscallReturn(raw *TrapRegs, ret int64)
}

// TrapRegs is the architecture-neutral view over "whatever general purpose
// registers the trap entry stub saved". Each arch package knows how to read
// and write the handful of fields it actually uses (syscall number, six
// arguments, return slot); the rest of the kernel passes this type around
// opaquely.
type TrapRegs struct {
	// Raw holds the architecture's native saved-register layout,
	// reinterpreted by the owning arch package. It is sized for the widest
	// supported target (arm64/amd64, 31/16 GPRs respectively).
	Raw [31]uint64
}

// Active is set by the per-arch package's init() and consumed by every
// higher-level package. There is exactly one build target per kernel image,
// so exactly one arch sub-package is ever linked in.
var Active Traits
