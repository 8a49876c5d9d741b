package proc

import (
	"encoding/binary"
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/vmm"
)

// userStackTop is the fixed top-of-stack address every freshly execve'd
// process starts with; it sits well above userImageBase, inside the
// amd64 and arm64 canonical user ranges.
const userStackTop = 0x0000700000000000

// loadPages maps len(data)-rounded-up-to-PageSize worth of pages
// starting at base into pdt, filling each with the corresponding slice
// of data (zero-padding past the end of data in the final page). pdt
// need not be active: each page's content is staged through a
// temporary mapping in the currently active address space, the same
// way resolveCOWFault stages a page before handing it to the faulting
// address space.
func loadPages(pdt *vmm.PageDirectoryTable, base uintptr, data []byte, flags vmm.PageTableEntryFlag) *kernel.Error {
	allocFn := vmm.FrameAllocator()
	pageCount := (mem.Size(len(data)) + mem.PageSize - 1) / mem.PageSize
	if pageCount == 0 {
		pageCount = 1
	}

	for i := mem.Size(0); i < pageCount; i++ {
		frame, err := allocFn()
		if err != nil {
			return err
		}

		tmp, err := vmm.MapTemporary(frame, allocFn)
		if err != nil {
			return err
		}
		mem.Memset(tmp.Address(), 0, mem.PageSize)

		start := i * mem.PageSize
		end := start + mem.PageSize
		if end > mem.Size(len(data)) {
			end = mem.Size(len(data))
		}
		if end > start {
			chunk := data[start:end]
			mem.Memcopy(uintptr(unsafe.Pointer(&chunk[0])), tmp.Address(), mem.Size(len(chunk)))
		}
		vmm.Unmap(tmp)

		page := vmm.PageFromAddress(base + uintptr(i)*uintptr(mem.PageSize))
		if err = pdt.Map(page, frame, vmm.FlagPresent|flags, allocFn); err != nil {
			return err
		}
	}
	return nil
}

// newAddressSpaceFor builds a fresh address space containing a single
// flat text+data mapping at loadAddr holding buf verbatim, plus a
// user stack region below userStackTop. There is no section header or
// relocation table to parse: a real ELF loader belongs to the concrete
// filesystem/loader this tree deliberately leaves unimplemented, so the
// whole image is mapped present, writable and executable rather than
// split into separate text/data/bss permissions.
func newAddressSpaceFor(buf []byte, loadAddr uintptr) (*vmm.PageDirectoryTable, *kernel.Error) {
	allocFn := vmm.FrameAllocator()
	pdtFrame, err := allocFn()
	if err != nil {
		return nil, err
	}

	pdt := &vmm.PageDirectoryTable{}
	if err = pdt.Init(pdtFrame, allocFn); err != nil {
		return nil, err
	}

	imageFlags := vmm.FlagRW | vmm.FlagUserAccessible
	if err = loadPages(pdt, loadAddr, buf, imageFlags); err != nil {
		return nil, err
	}

	stackBase := userStackTop - uintptr(userStackBytes)
	stackFlags := vmm.FlagRW | vmm.FlagUserAccessible | vmm.FlagNoExecute
	if err = loadPages(pdt, stackBase, make([]byte, userStackBytes), stackFlags); err != nil {
		return nil, err
	}

	return pdt, nil
}

// layoutArgvEnvp writes argv and envp onto the top of pdt's user stack
// in the conventional argc/argv[]/NULL/envp[]/NULL layout (without an
// ELF auxiliary vector, which nothing in this tree ever produces) and
// returns the stack pointer a freshly started process should begin
// execution with.
func layoutArgvEnvp(pdt *vmm.PageDirectoryTable, argv, envp []string) uintptr {
	stackBase := userStackTop - uintptr(userStackBytes)
	buf := make([]byte, userStackBytes)
	top := uint64(userStackBytes)

	writeStr := func(s string) uint64 {
		raw := append([]byte(s), 0)
		top -= uint64(len(raw))
		copy(buf[top:], raw)
		return uint64(stackBase) + top
	}

	argvPtrs := make([]uint64, len(argv))
	for i, s := range argv {
		argvPtrs[i] = writeStr(s)
	}
	envpPtrs := make([]uint64, len(envp))
	for i, s := range envp {
		envpPtrs[i] = writeStr(s)
	}

	top &^= 7 // align the pointer arrays below

	writePtr := func(v uint64) {
		top -= 8
		binary.LittleEndian.PutUint64(buf[top:], v)
	}

	writePtr(0)
	for i := len(envpPtrs) - 1; i >= 0; i-- {
		writePtr(envpPtrs[i])
	}
	writePtr(0)
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		writePtr(argvPtrs[i])
	}
	writePtr(uint64(len(argv)))

	sp := stackBase + uintptr(top)
	if err := loadPages(pdt, stackBase, buf, vmm.FlagRW|vmm.FlagUserAccessible|vmm.FlagNoExecute); err != nil {
		// The stack region was already reserved by newAddressSpaceFor;
		// re-mapping it here only overwrites page contents, so a
		// mid-write allocation failure is the one realistic cause and
		// there is nothing left to do but hand back the original top.
		return userStackTop
	}
	return sp
}

// releaseAddressSpace frees every frame pdt maps (dropping shared
// copy-on-write references instead of freeing frames still in use
// elsewhere) and then pdt's own top-level frame. pdt must not be the
// currently active address space when this is called; callers switch
// away first (vmm.ActivateKernelTemplate or activating a replacement
// address space) so CR3 is never left pointing at freed frames.
func releaseAddressSpace(pdt *vmm.PageDirectoryTable) *kernel.Error {
	return vmm.DestroyAddressSpace(pdt)
}
