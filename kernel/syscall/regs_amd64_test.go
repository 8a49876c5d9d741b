//go:build amd64

package syscall

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/castorworks/CastorOS-sub004/kernel/arch"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
)

func TestToTrapRegsMapsSyscallABIRegisters(t *testing.T) {
	r := &irq.Regs{
		RDI: 1, RSI: 2, RDX: 3, R10: 4, R8: 5, R9: 6, RAX: 60,
	}

	raw := toTrapRegs(r)

	assert.EqualValues(t, 1, raw.Raw[0])
	assert.EqualValues(t, 2, raw.Raw[1])
	assert.EqualValues(t, 3, raw.Raw[2])
	assert.EqualValues(t, 4, raw.Raw[3])
	assert.EqualValues(t, 5, raw.Raw[4])
	assert.EqualValues(t, 6, raw.Raw[5])
	assert.EqualValues(t, 60, raw.Raw[6])
}

func TestStoreReturnWritesRAX(t *testing.T) {
	var raw arch.TrapRegs
	raw.Raw[6] = 42

	var r irq.Regs
	storeReturn(&raw, &r)

	assert.EqualValues(t, 42, r.RAX)
}
