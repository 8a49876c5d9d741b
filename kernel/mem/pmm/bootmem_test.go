package pmm

import (
	"bytes"
	"unsafe"

	"testing"

	"github.com/castorworks/CastorOS-sub004/kernel/bootinfo"
	"github.com/castorworks/CastorOS-sub004/kernel/driver/video/console"
	"github.com/castorworks/CastorOS-sub004/kernel/hal"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
)

// fakeProvider implements bootinfo.Provider over a canned list of
// regions so tests don't need a real bootloader info blob.
type fakeProvider struct {
	regions []bootinfo.MemoryMapEntry
}

func (p fakeProvider) CommandLine() string { return "" }
func (p fakeProvider) Modules() []bootinfo.Module { return nil }
func (p fakeProvider) Framebuffer() *bootinfo.Framebuffer { return nil }
func (p fakeProvider) VisitMemoryMap(visitor bootinfo.MemRegionVisitor) {
	for i := range p.regions {
		if !visitor(&p.regions[i]) {
			return
		}
	}
}

// twoRegionLayout describes two available 4-page regions separated by
// a reserved gap: frames [0-3] and [16-19] are available, everything
// else is reserved.
var twoRegionLayout = []bootinfo.MemoryMapEntry{
	{PhysAddress: 0, Length: uint64(4 * mem.PageSize), Type: bootinfo.RegionAvailable},
	{PhysAddress: uint64(4 * mem.PageSize), Length: uint64(12 * mem.PageSize), Type: bootinfo.RegionReserved},
	{PhysAddress: uint64(16 * mem.PageSize), Length: uint64(4 * mem.PageSize), Type: bootinfo.RegionAvailable},
}

func TestBootMemAllocator(t *testing.T) {
	bootinfo.SetProvider(fakeProvider{regions: twoRegionLayout})
	defer bootinfo.SetProvider(nil)

	var alloc BootMemAllocator
	alloc.Init()

	expFrames := []Frame{0, 1, 2, 3, 16, 17, 18, 19}
	for i, expFrame := range expFrames {
		frame, err := alloc.AllocFrame(0)
		if err != nil {
			t.Fatalf("[frame %d] unexpected error: %v", i, err)
		}
		if frame != expFrame {
			t.Errorf("[frame %d] expected frame %d; got %d", i, expFrame, frame)
		}
		if !frame.Valid() {
			t.Errorf("[frame %d] expected allocated frame to be valid", i)
		}
	}

	if _, err := alloc.AllocFrame(0); err != errBootAllocOutOfMemory {
		t.Fatalf("expected out of memory error; got %v", err)
	}

	if exp, got := uint64(len(expFrames)), alloc.AllocCount(); exp != got {
		t.Fatalf("expected AllocCount() to report %d; got %d", exp, got)
	}
}

func TestBootMemAllocatorUnsupportedOrder(t *testing.T) {
	bootinfo.SetProvider(fakeProvider{regions: twoRegionLayout})
	defer bootinfo.SetProvider(nil)

	var alloc BootMemAllocator
	alloc.Init()

	if _, err := alloc.AllocFrame(1); err != errBootAllocUnsupportedPageSize {
		t.Fatalf("expected unsupported page size error; got %v", err)
	}
}

func TestBootMemAllocatorInitOutput(t *testing.T) {
	bootinfo.SetProvider(fakeProvider{regions: twoRegionLayout})
	defer bootinfo.SetProvider(nil)

	fb := mockTTY()

	var alloc BootMemAllocator
	alloc.Init()

	var buf bytes.Buffer
	for i := 0; i < len(fb); i += 2 {
		if fb[i] == 0x0 {
			continue
		}
		buf.WriteByte(fb[i])
	}

	if got := buf.String(); !bytes.Contains([]byte(got), []byte("[boot_mem_alloc] system memory map:")) {
		t.Fatalf("expected output to contain the memory map header; got:\n%q", got)
	}
}

func mockTTY() []byte {
	mockConsoleFb := make([]byte, 160*25)
	mockConsole := &console.Ega{}
	mockConsole.Init(80, 25, uintptr(unsafe.Pointer(&mockConsoleFb[0])))
	hal.ActiveTerminal.AttachTo(mockConsole)

	return mockConsoleFb
}
