// Package syscall implements the system calls user environments invoke
// through the system call vector.
package syscall

import (
	"fmt"
	"io"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/env"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/pmm"
	"github.com/tc250/jos07/kernel/mm/vmm"
)

// Dispatcher routes system calls to their implementation.
type Dispatcher struct {
	envs  *env.Table
	yield func()

	// Console supplies the characters returned by cgetc. A nil Console
	// behaves like an idle keyboard.
	Console io.Reader

	// TagOutput prefixes every line printed through cputs with the id
	// of the printing environment.
	TagOutput bool

	tagged kfmt.TagWriter
}

// New returns a dispatcher that operates on envs and gives up the CPU by
// calling yield.
func New(envs *env.Table, yield func()) *Dispatcher {
	return &Dispatcher{envs: envs, yield: yield}
}

// Dispatch invokes the system call num with arguments a1 to a5 on behalf of
// the current environment and returns the value for the return register.
// Errors are reported as negated abi.Errno values.
func (d *Dispatcher) Dispatch(num abi.Syscall, a1, a2, a3, a4, a5 uint32) int32 {
	switch num {
	case abi.SysCputs:
		return d.cputs(uintptr(a1), uintptr(a2))
	case abi.SysCgetc:
		return d.cgetc()
	case abi.SysGetenvid:
		return int32(d.envs.Current().ID)
	case abi.SysEnvDestroy:
		return ret(d.envDestroy(abi.EnvID(a1)))
	case abi.SysPageAlloc:
		return ret(d.pageAlloc(abi.EnvID(a1), uintptr(a2), vmm.PageTableEntryFlag(a3)))
	case abi.SysPageMap:
		return ret(d.pageMap(abi.EnvID(a1), uintptr(a2), abi.EnvID(a3), uintptr(a4), vmm.PageTableEntryFlag(a5)))
	case abi.SysPageUnmap:
		return ret(d.pageUnmap(abi.EnvID(a1), uintptr(a2)))
	case abi.SysExofork:
		return d.exofork()
	case abi.SysEnvSetStatus:
		return ret(d.envSetStatus(abi.EnvID(a1), abi.EnvStatus(a2)))
	case abi.SysEnvSetPgfaultUpcall:
		return ret(d.envSetPgfaultUpcall(abi.EnvID(a1), a2))
	case abi.SysYield:
		d.yield()
		return 0
	}

	return abi.EInval.Ret()
}

func ret(errno abi.Errno) int32 {
	return errno.Ret()
}

// errnoFor maps kernel errors to the error codes reported to user code.
func errnoFor(err *kernel.Error) abi.Errno {
	switch err {
	case env.ErrBadEnv:
		return abi.EBadEnv
	case env.ErrNoFreeEnv:
		return abi.ENoFreeEnv
	case pmm.ErrOutOfMemory:
		return abi.ENoMem
	}
	return abi.EUnspecified
}

// cputs prints a string to the console. The environment is destroyed if
// it does not have permission to read the string.
func (d *Dispatcher) cputs(va, length uintptr) int32 {
	cur := d.envs.Current()

	if badAddr, err := cur.Pgdir.UserMemCheck(va, length, vmm.FlagUserAccessible); err != nil {
		kfmt.Printf("[%08x] user_mem_check assertion failure for va %08x\n", uint32(cur.ID), badAddr)
		d.envs.Destroy(cur)
		return abi.EFault.Ret()
	}

	buf := make([]byte, length)
	if length > 0 {
		if err := cur.Pgdir.CopyFromUser(buf, va); err != nil {
			d.envs.Destroy(cur)
			return abi.EFault.Ret()
		}
	}

	if !d.TagOutput {
		_, _ = kfmt.GetOutputSink().Write(buf)
		return 0
	}

	d.tagged.Sink = kfmt.GetOutputSink()
	if err := d.tagged.SetTag(fmt.Sprintf("[%08x] ", uint32(cur.ID))); err == nil {
		_, _ = d.tagged.Write(buf)
	}

	return 0
}

// cgetc reads a character from the console without blocking. It returns 0
// if no input is waiting.
func (d *Dispatcher) cgetc() int32 {
	if d.Console == nil {
		return 0
	}

	var b [1]byte
	if n, _ := d.Console.Read(b[:]); n == 0 {
		return 0
	}
	return int32(b[0])
}

func (d *Dispatcher) envDestroy(id abi.EnvID) abi.Errno {
	e, err := d.envs.Get(id, true)
	if err != nil {
		return errnoFor(err)
	}

	cur := d.envs.Current()
	if e == cur {
		kfmt.Printf("[%08x] exiting gracefully\n", uint32(cur.ID))
	} else {
		kfmt.Printf("[%08x] destroying %08x\n", uint32(cur.ID), uint32(e.ID))
	}
	d.envs.Destroy(e)

	return 0
}

// exofork creates a child that is a register-level copy of the current
// environment with an empty address space. The child is not runnable until
// its parent marks it so; its copy of the return register holds 0.
func (d *Dispatcher) exofork() int32 {
	child, err := d.envs.Fork(d.envs.Current())
	if err != nil {
		return errnoFor(err).Ret()
	}

	return int32(child.ID)
}

func (d *Dispatcher) envSetStatus(id abi.EnvID, status abi.EnvStatus) abi.Errno {
	if status != abi.EnvRunnable && status != abi.EnvNotRunnable {
		return abi.EInval
	}

	e, err := d.envs.Get(id, true)
	if err != nil {
		return errnoFor(err)
	}

	e.Status = status
	return 0
}

func (d *Dispatcher) envSetPgfaultUpcall(id abi.EnvID, upcall uint32) abi.Errno {
	e, err := d.envs.Get(id, true)
	if err != nil {
		return errnoFor(err)
	}

	e.PgfaultUpcall = upcall
	return 0
}

// checkUserVA validates an address passed to the page system calls.
func checkUserVA(va uintptr) bool {
	return va < mm.UTop && va&(mm.PageSize-1) == 0
}

// checkPerm validates permissions passed to the page system calls: user
// and present must be set and nothing outside FlagSyscall may be.
func checkPerm(perm vmm.PageTableEntryFlag) bool {
	return perm.Has(vmm.FlagUserAccessible|vmm.FlagPresent) && perm&^vmm.FlagSyscall == 0
}

// pageAlloc maps a zeroed page at va of environment id. A page already
// mapped there is unmapped first.
func (d *Dispatcher) pageAlloc(id abi.EnvID, va uintptr, perm vmm.PageTableEntryFlag) abi.Errno {
	e, err := d.envs.Get(id, true)
	if err != nil {
		return errnoFor(err)
	}

	if !checkUserVA(va) || !checkPerm(perm) {
		return abi.EInval
	}

	alloc := e.Pgdir.Allocator()
	frame, err := alloc.AllocFrame(true)
	if err != nil {
		return abi.ENoMem
	}

	if err = e.Pgdir.Map(mm.PageFromAddress(va), frame, perm); err != nil {
		alloc.FreeFrame(frame)
		return abi.ENoMem
	}

	return 0
}

// pageMap maps the page at srcVA in the address space of srcID at dstVA in
// the address space of dstID with permission perm.
func (d *Dispatcher) pageMap(srcID abi.EnvID, srcVA uintptr, dstID abi.EnvID, dstVA uintptr, perm vmm.PageTableEntryFlag) abi.Errno {
	src, err := d.envs.Get(srcID, true)
	if err != nil {
		return errnoFor(err)
	}
	dst, err := d.envs.Get(dstID, true)
	if err != nil {
		return errnoFor(err)
	}

	if !checkUserVA(srcVA) || !checkUserVA(dstVA) {
		return abi.EInval
	}

	frame, srcFlags, err := src.Pgdir.Lookup(srcVA)
	if err != nil {
		return abi.EInval
	}

	if !checkPerm(perm) {
		return abi.EInval
	}

	// A read-only page may not be made writable by mapping it elsewhere.
	if perm.Has(vmm.FlagRW) && !srcFlags.Has(vmm.FlagRW) {
		return abi.EInval
	}

	if err = dst.Pgdir.Map(mm.PageFromAddress(dstVA), frame, perm); err != nil {
		return abi.ENoMem
	}

	return 0
}

// pageUnmap unmaps the page at va of environment id. Unmapping a page that
// is not mapped succeeds silently.
func (d *Dispatcher) pageUnmap(id abi.EnvID, va uintptr) abi.Errno {
	e, err := d.envs.Get(id, true)
	if err != nil {
		return errnoFor(err)
	}

	if !checkUserVA(va) {
		return abi.EInval
	}

	e.Pgdir.Unmap(mm.PageFromAddress(va))
	return 0
}
