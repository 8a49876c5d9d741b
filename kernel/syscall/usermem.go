package syscall

import (
	"encoding/binary"
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/arch"
	"github.com/castorworks/CastorOS-sub004/kernel/errno"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/vmm"
)

// errBadPointer is returned for every user-pointer validation failure:
// out of range, wrapping, or pointing at an unmapped page. Matches
// spec.md §8's literal example: write(fd=1, buf=0xFFFFFFFF, len=1)
// returns InvalidArgument.
var errBadPointer = kernel.NewError("syscall", "bad user address", errno.InvalidArgument)

// lookupFlagsFn points at vmm.LookupFlags; overridden in tests so
// validateMapped can be exercised without a real page table to walk.
var lookupFlagsFn = vmm.LookupFlags

// maxCopyInString bounds the length of any string a handler pulls out
// of user memory (syscall §4.10 caps paths at this size).
const maxCopyInString = 256

// checkUserRange rejects addresses outside [UserSpaceStart,
// UserSpaceEnd) and ranges that wrap around the address space, the
// two violations no valid user pointer can produce.
func checkUserRange(addr uintptr, length uintptr) *kernel.Error {
	start, end := arch.Active.UserSpaceStart(), arch.Active.UserSpaceEnd()
	if addr < start || addr >= end {
		return errBadPointer
	}
	if length == 0 {
		return nil
	}
	last := addr + length - 1
	if last < addr || last >= end {
		return errBadPointer
	}
	return nil
}

// CopyIn validates that [addr, addr+len(dst)) lies entirely in user
// space and every page in it actually translates (i.e. is mapped),
// then copies it into dst out of the currently active address space.
// It never reads past a page that isn't mapped: a translation failure
// partway through the range is reported before anything is copied.
func CopyIn(addr uintptr, dst []byte) *kernel.Error {
	if len(dst) == 0 {
		return nil
	}
	if err := checkUserRange(addr, uintptr(len(dst))); err != nil {
		return err
	}
	if err := validateMapped(addr, mem.Size(len(dst)), false); err != nil {
		return err
	}
	mem.Memcopy(addr, uintptr(unsafe.Pointer(&dst[0])), mem.Size(len(dst)))
	return nil
}

// CopyOut is the inverse of CopyIn: it writes src into user memory at
// addr after the same range and mapping validation.
func CopyOut(addr uintptr, src []byte) *kernel.Error {
	if len(src) == 0 {
		return nil
	}
	if err := checkUserRange(addr, uintptr(len(src))); err != nil {
		return err
	}
	if err := validateMapped(addr, mem.Size(len(src)), true); err != nil {
		return err
	}
	mem.Memcopy(uintptr(unsafe.Pointer(&src[0])), addr, mem.Size(len(src)))
	return nil
}

// validateMapped walks every page touched by [addr, addr+length)
// through vmm.LookupFlags and confirms each one is present,
// user-accessible and, when forWrite is set (CopyOut), writable. A
// page that is merely present but not user-accessible or not writable
// - a copy-on-write page, say - must fail here rather than faulting
// partway through the Memcopy that follows.
func validateMapped(addr uintptr, length mem.Size, forWrite bool) *kernel.Error {
	first := addr &^ uintptr(mem.PageSize-1)
	last := (addr + uintptr(length) - 1) &^ uintptr(mem.PageSize-1)
	for page := first; ; page += uintptr(mem.PageSize) {
		flags, err := lookupFlagsFn(page)
		if err != nil {
			return errBadPointer
		}
		if !flags.HasFlags(vmm.FlagUserAccessible) {
			return errBadPointer
		}
		if forWrite && !flags.HasFlags(vmm.FlagRW) {
			return errBadPointer
		}
		if page == last {
			break
		}
	}
	return nil
}

// CopyInString copies a NUL-terminated string out of user memory,
// reading at most maxCopyInString bytes before giving up with
// InvalidArgument, the bound syscall §4.10 requires for path
// arguments.
func CopyInString(addr uintptr) (string, *kernel.Error) {
	if err := checkUserRange(addr, 1); err != nil {
		return "", err
	}
	buf := make([]byte, 0, 64)
	for i := uintptr(0); i < maxCopyInString; i++ {
		var b [1]byte
		if err := CopyIn(addr+i, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", kernel.NewError("syscall", "string argument exceeds maximum length", errno.InvalidArgument)
}

// CopyInStringArray reads a NUL-terminated array of NUL-terminated
// string pointers (argv/envp's on-the-wire shape) out of user memory.
func CopyInStringArray(addr uintptr) ([]string, *kernel.Error) {
	if addr == 0 {
		return nil, nil
	}
	var out []string
	for i := uintptr(0); ; i++ {
		var ptrBuf [8]byte
		if err := CopyIn(addr+i*8, ptrBuf[:]); err != nil {
			return nil, err
		}
		ptr := uintptr(binary.LittleEndian.Uint64(ptrBuf[:]))
		if ptr == 0 {
			return out, nil
		}
		s, err := CopyInString(ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}
