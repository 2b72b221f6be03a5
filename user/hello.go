package user

import (
	"github.com/tc250/jos07/kernel/mm/vmm"
	"github.com/tc250/jos07/ulib"
)

func hello(u ulib.Context) {
	ulib.Printf(u, "hello, world\n")
	ulib.Printf(u, "i am environment %08x\n", uint32(ulib.ThisEnv(u)))
}

func yieldProg(u ulib.Context) {
	id := uint32(ulib.ThisEnv(u))
	ulib.Printf(u, "Hello, I am environment %08x.\n", id)

	for i := 0; i < 5; i++ {
		ulib.SysYield(u)
		ulib.Printf(u, "Back in environment %08x, iteration %d.\n", id, i)
	}

	ulib.Printf(u, "All done in environment %08x.\n", id)
}

// syscallargs passes a value in every argument register and checks the
// kernel acted on all of them.
func syscallargs(u ulib.Context) {
	const (
		srcVA = uintptr(0x00400000)
		dstVA = srcVA + 0x3000
	)

	id := ulib.ThisEnv(u)
	if err := ulib.SysPageAlloc(u, 0, srcVA, permRW); err != nil {
		ulib.Panic(u, "sys_page_alloc: %v", err)
		return
	}
	writeString(u, srcVA, "five arguments arrived")

	if err := ulib.SysPageMap(u, 0, srcVA, id, dstVA, permRO); err != nil {
		ulib.Panic(u, "sys_page_map: %v", err)
		return
	}

	ulib.Printf(u, "%s\n", readString(u, dstVA, 64))

	flags, err := u.EntryFor(dstVA)
	if err != nil {
		ulib.Panic(u, "no mapping at %08x: %v", dstVA, err)
		return
	}
	ulib.Printf(u, "read-only: %t\n", !flags.Has(vmm.FlagRW))

	if err = ulib.SysPageUnmap(u, 0, dstVA); err != nil {
		ulib.Panic(u, "sys_page_unmap: %v", err)
		return
	}
	if flags, _ = u.EntryFor(dstVA); flags.Has(vmm.FlagPresent) {
		ulib.Panic(u, "page still mapped at %08x", dstVA)
		return
	}
	ulib.Printf(u, "unmapped\n")
}
