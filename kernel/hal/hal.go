package hal

import (
	"github.com/castorworks/CastorOS-sub004/kernel/bootinfo"
	"github.com/castorworks/CastorOS-sub004/kernel/driver/tty"
	"github.com/castorworks/CastorOS-sub004/kernel/driver/video/console"
)

var (
	egaConsole = &console.Ega{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some output
// till everything is properly setup
func InitTerminal() {
	fbInfo := bootinfo.Framebuffer()
	if fbInfo == nil {
		return
	}

	egaConsole.Init(uint16(fbInfo.Width), uint16(fbInfo.Height), uintptr(fbInfo.PhysAddress))
	ActiveTerminal.AttachTo(egaConsole)
}
