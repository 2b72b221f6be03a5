package user

import (
	"fmt"

	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/ulib"
)

// faultalloc demand-allocates pages from its page fault handler, including
// a fault taken by the handler itself.
func faultalloc(u ulib.Context) {
	if err := ulib.SetPgfaultHandler(u, faultallocHandler); err != nil {
		ulib.Panic(u, "set_pgfault_handler: %v", err)
		return
	}

	ulib.Printf(u, "%s\n", readString(u, 0xdeadbeef, 100))
	ulib.Printf(u, "%s\n", readString(u, 0xcafebffe, 100))
}

func faultallocHandler(u ulib.Context, utf *gate.UTrapframe) {
	addr := uintptr(utf.FaultVA)
	ulib.Printf(u, "fault %x\n", addr)

	if err := ulib.SysPageAlloc(u, 0, mm.RoundDown(addr, mm.PageSize), permRW); err != nil {
		ulib.Panic(u, "allocating at %x in page fault handler: %v", addr, err)
		return
	}
	writeString(u, addr, fmt.Sprintf("this string was faulted in at %x", addr))
}

// faultdie destroys itself from its page fault handler.
func faultdie(u ulib.Context) {
	if err := ulib.SetPgfaultHandler(u, func(u ulib.Context, utf *gate.UTrapframe) {
		ulib.Printf(u, "i faulted at va %x, err %x\n", utf.FaultVA, utf.Err&7)
		_ = ulib.SysEnvDestroy(u, 0)
	}); err != nil {
		ulib.Panic(u, "set_pgfault_handler: %v", err)
		return
	}

	ulib.WriteUint32(u, 0xdeadbeef, 0)
}

// faultnostack registers an upcall without an exception stack.
func faultnostack(u ulib.Context) {
	if err := ulib.SysEnvSetPgfaultUpcall(u, 0, ulib.PgfaultUpcall); err != nil {
		ulib.Panic(u, "sys_env_set_pgfault_upcall: %v", err)
		return
	}

	ulib.WriteUint32(u, 0, 0)
}

// faultbadhandler registers an upcall that points at no code.
func faultbadhandler(u ulib.Context) {
	if err := ulib.SysPageAlloc(u, 0, mm.UXStackTop-mm.PageSize, permRW); err != nil {
		ulib.Panic(u, "sys_page_alloc: %v", err)
		return
	}
	if err := ulib.SysEnvSetPgfaultUpcall(u, 0, 0xdeadbeef); err != nil {
		ulib.Panic(u, "sys_env_set_pgfault_upcall: %v", err)
		return
	}

	ulib.WriteUint32(u, 0, 0)
}

// faultread reads from an unmapped page without a handler.
func faultread(u ulib.Context) {
	ulib.Printf(u, "I read %08x from location 0!\n", ulib.ReadUint32(u, 0))
}

// faultwrite writes to its read-only data without a handler.
func faultwrite(u ulib.Context) {
	ulib.WriteUint32(u, RodataVA, 0)
}

// badvector raises the page fault vector with a software interrupt, which
// user mode may not do.
func badvector(u ulib.Context) {
	u.Int(uint8(gate.PageFaultException))
}

func breakpoint(u ulib.Context) {
	ulib.Breakpoint(u)
	ulib.Printf(u, "back from the monitor\n")
}
