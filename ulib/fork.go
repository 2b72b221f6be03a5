package ulib

import (
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/vmm"
)

// Outcome tells the continuation of Fork on which side of the fork it runs.
type Outcome struct {
	child   abi.EnvID
	self    abi.EnvID
	isChild bool
}

// ParentView is the outcome seen by the parent; id is the new child.
func ParentView(id abi.EnvID) Outcome {
	return Outcome{child: id}
}

// ChildView is the outcome seen by the child; self is the child's own id.
func ChildView(self abi.EnvID) Outcome {
	return Outcome{self: self, isChild: true}
}

// IsChild returns true in the child.
func (o Outcome) IsChild() bool {
	return o.isChild
}

// Child returns the id of the new child in the parent and 0 in the child.
func (o Outcome) Child() abi.EnvID {
	return o.child
}

// Self returns the child's own id in the child and 0 in the parent.
func (o Outcome) Self() abi.EnvID {
	return o.self
}

// CowFault is the page fault handler installed by Fork. If the fault is a
// write to a copy-on-write page, it maps a private writable copy of the
// page in its place. Any other fault, and any failure to make the copy,
// panics the environment.
func CowFault(u Context, utf *gate.UTrapframe) {
	addr := uintptr(utf.FaultVA)

	flags, err := u.EntryFor(addr)
	if utf.Err&vmm.FaultWrite == 0 || err != nil || !flags.Has(vmm.FlagCopyOnWrite) {
		Panic(u, "pgfault handler: user fault at %08x with errcode %08x", utf.FaultVA, utf.Err)
		return
	}

	va := mm.RoundDown(addr, mm.PageSize)
	perm := vmm.FlagPresent | vmm.FlagUserAccessible | vmm.FlagRW

	if err = SysPageAlloc(u, 0, mm.PFTemp, perm); err != nil {
		Panic(u, "pgfault handler: sys_page_alloc: %v", err)
		return
	}

	page := make([]byte, mm.PageSize)
	u.ReadMem(va, page)
	u.WriteMem(mm.PFTemp, page)

	if err = SysPageMap(u, 0, mm.PFTemp, 0, va, perm); err != nil {
		Panic(u, "pgfault handler: sys_page_map: %v", err)
		return
	}
	if err = SysPageUnmap(u, 0, mm.PFTemp); err != nil {
		Panic(u, "pgfault handler: sys_page_unmap: %v", err)
	}
}

// Duppage maps page pn of the caller into child at the same address. A
// writable or copy-on-write page becomes copy-on-write in both address
// spaces; the child's mapping is installed first and the caller's own
// mapping is then downgraded so neither side can write the shared frame.
// A read-only page is shared with identical permissions.
func Duppage(u Context, child abi.EnvID, pn uintptr) error {
	va := pn << mm.PageShift

	flags, err := u.EntryFor(va)
	if err != nil {
		return err
	}

	if flags.Has(vmm.FlagRW) || flags.Has(vmm.FlagCopyOnWrite) {
		perm := vmm.FlagPresent | vmm.FlagUserAccessible | vmm.FlagCopyOnWrite
		if err = SysPageMap(u, 0, va, child, va, perm); err != nil {
			return err
		}
		return SysPageMap(u, 0, va, 0, va, perm)
	}

	return SysPageMap(u, 0, va, child, va, flags&vmm.FlagSyscall)
}

// sharepage maps page pn of the caller into child with the caller's own
// permissions so that both environments see the same frame.
func sharepage(u Context, child abi.EnvID, pn uintptr) error {
	va := pn << mm.PageShift

	flags, err := u.EntryFor(va)
	if err != nil {
		return err
	}

	return SysPageMap(u, 0, va, child, va, flags&vmm.FlagSyscall)
}

// Fork creates a child environment with a copy-on-write copy of the
// caller's address space. cont runs in the parent with ParentView before
// Fork returns, and in the child with ChildView when the child is first
// scheduled; the child ends when cont returns.
//
// If the address space cannot be duplicated, the partially built child is
// destroyed before it ever becomes runnable and the error is returned.
func Fork(u Context, cont func(u Context, o Outcome)) error {
	return fork(u, cont, Duppage)
}

// SFork is like Fork except that the child shares the caller's memory.
// Only the normal user stack is copy-on-write and the exception stack is
// private.
func SFork(u Context, cont func(u Context, o Outcome)) error {
	return fork(u, cont, func(u Context, child abi.EnvID, pn uintptr) error {
		if isStackPage(pn << mm.PageShift) {
			return Duppage(u, child, pn)
		}
		return sharepage(u, child, pn)
	})
}

// isStackPage returns true for pages in the page table that holds the
// normal user stack, below UStackTop.
func isStackPage(va uintptr) bool {
	return va >= mm.RoundDown(mm.UStackTop-1, mm.PTSize) && va < mm.UStackTop
}

func fork(u Context, cont func(u Context, o Outcome), dup func(Context, abi.EnvID, uintptr) error) error {
	if err := SetPgfaultHandler(u, CowFault); err != nil {
		return err
	}

	u.SetResumePoint(func(u Context) {
		if u.Regs().Regs.EAX != 0 {
			Panic(u, "fork: child resumed with result %d", int32(u.Regs().Regs.EAX))
			return
		}

		// The child's view of itself is its own id, not the parent's.
		cont(u, ChildView(SysGetenvid(u)))
	})

	child, err := SysExofork(u)
	if err != nil {
		return err
	}

	if err = copyAddressSpace(u, child, dup); err != nil {
		_ = SysEnvDestroy(u, child)
		return err
	}

	cont(u, ParentView(child))
	return nil
}

// copyAddressSpace duplicates every present user page below UTop into
// child, gives the child a fresh exception stack and upcall and finally
// marks it runnable.
func copyAddressSpace(u Context, child abi.EnvID, dup func(Context, abi.EnvID, uintptr) error) error {
	for va := uintptr(0); va < mm.UTop; {
		if flags, err := u.DirEntryFor(va); err != nil || !flags.Has(vmm.FlagPresent) {
			va = mm.RoundDown(va, mm.PTSize) + mm.PTSize
			continue
		}

		if va != mm.UXStackTop-mm.PageSize {
			flags, err := u.EntryFor(va)
			if err == nil && flags.Has(vmm.FlagPresent|vmm.FlagUserAccessible) {
				if err = dup(u, child, mm.VPN(va)); err != nil {
					return err
				}
			}
		}

		va += mm.PageSize
	}

	perm := vmm.FlagPresent | vmm.FlagUserAccessible | vmm.FlagRW
	if err := SysPageAlloc(u, child, mm.UXStackTop-mm.PageSize, perm); err != nil {
		return err
	}
	if err := SysEnvSetPgfaultUpcall(u, child, PgfaultUpcall); err != nil {
		return err
	}

	return SysEnvSetStatus(u, child, abi.EnvRunnable)
}
