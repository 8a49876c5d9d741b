package syscall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castorworks/CastorOS-sub004/kernel"
	"github.com/castorworks/CastorOS-sub004/kernel/arch"
	"github.com/castorworks/CastorOS-sub004/kernel/errno"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
	"github.com/castorworks/CastorOS-sub004/kernel/mem/pmm"
	"github.com/castorworks/CastorOS-sub004/kernel/task"
)

// fakeTraits is a minimal arch.Traits double: only the syscall-related
// methods do anything; everything else panics if ever called, since
// nothing in this package should reach them.
type fakeTraits struct {
	args           [6]uintptr
	number         uint64
	ret            int64
	userSpaceStart uintptr
	userSpaceEnd   uintptr
}

func (f *fakeTraits) PageSize() uint64                             { panic("unused") }
func (f *fakeTraits) PageShift() uint                              { panic("unused") }
func (f *fakeTraits) Levels() uint8                                { panic("unused") }
func (f *fakeTraits) EntriesPerTable() uint                        { panic("unused") }
func (f *fakeTraits) EntrySize() uint                              { panic("unused") }
func (f *fakeTraits) KernelVirtualBase() uintptr                   { panic("unused") }
func (f *fakeTraits) UserSpaceStart() uintptr                      { return f.userSpaceStart }
func (f *fakeTraits) UserSpaceEnd() uintptr                        { return f.userSpaceEnd }
func (f *fakeTraits) EncodePTE(pmm.Frame, arch.PteFlags) uint64    { panic("unused") }
func (f *fakeTraits) DecodePTE(uint64) (pmm.Frame, arch.PteFlags)  { panic("unused") }
func (f *fakeTraits) Index(uintptr, arch.Level) uint               { panic("unused") }
func (f *fakeTraits) Shift(arch.Level) uint                        { panic("unused") }
func (f *fakeTraits) SupportsNX() bool                             { panic("unused") }
func (f *fakeTraits) SupportsHugePages() bool                      { panic("unused") }
func (f *fakeTraits) SyscallArgs(*arch.TrapRegs) [6]uintptr        { return f.args }
func (f *fakeTraits) SyscallNumber(*arch.TrapRegs) uint64          { return f.number }
func (f *fakeTraits) SetSyscallReturn(_ *arch.TrapRegs, ret int64) { f.ret = ret }

// withFakeTraits installs a fake arch.Active with a user-space range
// wide enough to cover any address the Go runtime hands out ([0x1000,
// ^uintptr(0)/2)), since usermem_test.go's copy-path tests pass real
// Go-allocated addresses through CopyIn/CopyOut.
func withFakeTraits(t *testing.T, args [6]uintptr, number uint64) *fakeTraits {
	t.Helper()
	orig := arch.Active
	ft := &fakeTraits{args: args, number: number, userSpaceStart: 0x1000, userSpaceEnd: ^uintptr(0) / 2}
	arch.Active = ft
	t.Cleanup(func() { arch.Active = orig })
	return ft
}

func resetTable(t *testing.T) {
	t.Helper()
	orig := table
	table = map[uint64]Handler{}
	t.Cleanup(func() { table = orig })
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	resetTable(t)
	ft := withFakeTraits(t, [6]uintptr{7, 0, 0, 0, 0, 0}, 42)

	var gotArgs [6]uintptr
	Register(42, func(_ *task.Task, _ *irq.Regs, args [6]uintptr) (int64, *kernel.Error) {
		gotArgs = args
		return 99, nil
	})

	var regs irq.Regs
	Dispatch(nil, &regs)

	assert.EqualValues(t, 7, gotArgs[0])
	assert.EqualValues(t, 99, ft.ret)
}

func TestDispatchUnregisteredNumberReturnsNoSuchSyscall(t *testing.T) {
	resetTable(t)
	ft := withFakeTraits(t, [6]uintptr{}, 9999)

	var regs irq.Regs
	Dispatch(nil, &regs)

	assert.EqualValues(t, errno.NoSuchSyscall.Retval(), ft.ret)
}

func TestDispatchHandlerErrorReturnsItsCategory(t *testing.T) {
	resetTable(t)
	ft := withFakeTraits(t, [6]uintptr{}, 1)

	Register(1, func(_ *task.Task, _ *irq.Regs, _ [6]uintptr) (int64, *kernel.Error) {
		return 0, kernel.NewError("syscall", "boom", errno.InvalidArgument)
	})

	var regs irq.Regs
	Dispatch(nil, &regs)

	assert.EqualValues(t, errno.InvalidArgument.Retval(), ft.ret)
}

func TestRegisterOverwritesPreviousHandler(t *testing.T) {
	resetTable(t)
	Register(5, func(_ *task.Task, _ *irq.Regs, _ [6]uintptr) (int64, *kernel.Error) { return 1, nil })
	Register(5, func(_ *task.Task, _ *irq.Regs, _ [6]uintptr) (int64, *kernel.Error) { return 2, nil })

	ret, err := table[5](nil, nil, [6]uintptr{})
	require.Nil(t, err)
	assert.EqualValues(t, 2, ret)
}
