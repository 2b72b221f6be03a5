package ulib

import (
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/vmm"
)

// SetPgfaultHandler installs h as the page fault handler of the calling
// environment. The first call allocates the exception stack and registers
// the entry trampoline with the kernel.
func SetPgfaultHandler(u Context, h PgfaultHandler) error {
	if u.PgfaultHandler() == nil {
		err := SysPageAlloc(u, 0, mm.UXStackTop-mm.PageSize, vmm.FlagPresent|vmm.FlagUserAccessible|vmm.FlagRW)
		if err != nil {
			return err
		}

		u.SetText(PgfaultUpcall, pgfaultUpcall)
		if err = SysEnvSetPgfaultUpcall(u, 0, PgfaultUpcall); err != nil {
			return err
		}
	}

	u.StorePgfaultHandler(h)
	return nil
}

// pgfaultUpcall is the entry trampoline the kernel jumps to on a page
// fault. The stack pointer points at the fault frame.
//
// On return, the trap-time instruction pointer is pushed on the trap-time
// stack and execution continues there with the trap-time registers. For a
// nested fault the trap-time stack is the exception stack and the push goes
// to the scratch word the kernel left above this frame.
func pgfaultUpcall(u Context) {
	regs := u.Regs()
	utf := ReadUTrapframe(u, uintptr(regs.ESP))

	h := u.PgfaultHandler()
	if h == nil {
		Panic(u, "page fault upcall without a handler at va %08x", utf.FaultVA)
		return
	}
	h(u, &utf)

	sp := utf.ESP - 4
	WriteUint32(u, uintptr(sp), utf.EIP)

	regs = u.Regs()
	regs.Regs = utf.Regs
	regs.EFlags = utf.EFlags
	regs.ESP = sp

	// ret
	regs.EIP = ReadUint32(u, uintptr(sp))
	regs.ESP = sp + 4
}
