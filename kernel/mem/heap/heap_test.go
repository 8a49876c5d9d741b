package heap

import (
	"testing"
	"unsafe"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/mem"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/vmm"
)

func resetHeapState() {
	mapFn = vmm.Map
	reserveRegionFn = vmm.EarlyReserveRegion
	heapStart, heapEnd = 0, 0
	blockList = nil
}

func initTestHeap(t *testing.T, pages uint32) []byte {
	t.Helper()
	defer resetHeapState()

	backing := make([]byte, uintptr(pages)*uintptr(mem.PageSize))
	backingAddr := uintptr(unsafe.Pointer(&backing[0]))

	reserveRegionFn = func(_ mem.Size) (uintptr, *kernel.Error) { return backingAddr, nil }
	mapFn = func(page vmm.Page, frame pmm.Frame, flags vmm.PageTableEntryFlag, allocFn vmm.FrameAllocatorFn) *kernel.Error {
		return nil
	}
	dummyFrame := pmm.Frame(0)
	allocFn := func() (pmm.Frame, *kernel.Error) { return dummyFrame, nil }

	if err := Init(mem.Size(pages)*mem.PageSize, allocFn); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	return backing
}

func TestKMallocKFreeRoundTrip(t *testing.T) {
	backing := initTestHeap(t, 1)
	defer resetHeapState()
	_ = backing

	ptr, err := KMalloc(64, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ptr < heapStart || ptr >= heapEnd {
		t.Fatalf("returned pointer 0x%x outside heap range [0x%x, 0x%x)", ptr, heapStart, heapEnd)
	}

	if err := KFree(ptr); err != nil {
		t.Fatalf("unexpected error freeing block: %v", err)
	}

	if err := KFree(ptr); err != errDoubleFree {
		t.Fatalf("expected double-free error; got %v", err)
	}
}

func TestKMallocZeroSize(t *testing.T) {
	initTestHeap(t, 1)
	defer resetHeapState()

	if _, err := KMalloc(0, 0); err != errZeroSizeRequest {
		t.Fatalf("expected zero-size error; got %v", err)
	}
}

func TestKMallocBeforeInit(t *testing.T) {
	resetHeapState()

	if _, err := KMalloc(8, 0); err != errHeapNotInitialized {
		t.Fatalf("expected not-initialized error; got %v", err)
	}
}

func TestKMallocAlignment(t *testing.T) {
	initTestHeap(t, 1)
	defer resetHeapState()

	for _, align := range []uintptr{16, 64, 256} {
		ptr, err := KMalloc(32, align)
		if err != nil {
			t.Fatalf("[align %d] unexpected error: %v", align, err)
		}
		if ptr%align != 0 {
			t.Errorf("[align %d] expected pointer 0x%x to be aligned", align, ptr)
		}
		if err := KFree(ptr); err != nil {
			t.Fatalf("[align %d] unexpected error freeing: %v", align, err)
		}
	}
}

func TestKMallocOutOfMemory(t *testing.T) {
	initTestHeap(t, 1)
	defer resetHeapState()

	var ptrs []uintptr
	for {
		ptr, err := KMalloc(128, 0)
		if err != nil {
			if err != errOutOfMemory {
				t.Fatalf("unexpected error: %v", err)
			}
			break
		}
		ptrs = append(ptrs, ptr)
	}

	if len(ptrs) == 0 {
		t.Fatal("expected at least one successful allocation before exhaustion")
	}

	for _, ptr := range ptrs {
		if err := KFree(ptr); err != nil {
			t.Fatalf("unexpected error freeing 0x%x: %v", ptr, err)
		}
	}

	// the whole heap should have coalesced back into a single free block
	fullSize := mem.Size(uintptr(heapEnd-heapStart) - uintptr(headerSize) - ptrSize)
	ptr, err := KMalloc(fullSize, 0)
	if err != nil {
		t.Fatalf("expected full heap to be reclaimable after freeing everything; got %v", err)
	}
	if err := KFree(ptr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKFreeRejectsForeignPointer(t *testing.T) {
	initTestHeap(t, 1)
	defer resetHeapState()

	var x int
	if err := KFree(uintptr(unsafe.Pointer(&x))); err != errNotHeapPointer {
		t.Fatalf("expected not-a-heap-pointer error; got %v", err)
	}
}

func TestKFreeBeforeInit(t *testing.T) {
	resetHeapState()

	if err := KFree(0x1000); err != errHeapNotInitialized {
		t.Fatalf("expected not-initialized error; got %v", err)
	}
}

func TestKMallocSplitsAndCoalesces(t *testing.T) {
	initTestHeap(t, 1)
	defer resetHeapState()

	first, err := KMalloc(64, 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := KMalloc(64, 0)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("expected distinct blocks for two allocations")
	}

	if err := KFree(first); err != nil {
		t.Fatal(err)
	}
	if err := KFree(second); err != nil {
		t.Fatal(err)
	}

	// after both frees, the two blocks coalesce into one free block at
	// the start of the heap; first-fit hands that block out for a
	// request larger than either original block, so it reuses first's
	// address.
	big, err := KMalloc(200, 0)
	if err != nil {
		t.Fatalf("expected coalesced block to satisfy a larger request; got %v", err)
	}
	if big != first {
		t.Fatalf("expected the coalesced block at 0x%x to be reused; got 0x%x", first, big)
	}
	if err := KFree(big); err != nil {
		t.Fatal(err)
	}
}
