package ulib

import (
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/mm/vmm"
)

// errFor converts a system call result to an error. Negative results are
// reported as abi.Errno values.
func errFor(ret int32) error {
	if ret < 0 {
		return abi.Errno(-ret)
	}
	return nil
}

// SysCputs prints length bytes at va to the console.
func SysCputs(u Context, va uintptr, length int) {
	u.Syscall(abi.SysCputs, uint32(va), uint32(length), 0, 0, 0)
}

// SysCgetc returns the next console character or 0 if none is waiting.
func SysCgetc(u Context) int {
	return int(u.Syscall(abi.SysCgetc, 0, 0, 0, 0, 0))
}

// SysGetenvid returns the id of the calling environment.
func SysGetenvid(u Context) abi.EnvID {
	return abi.EnvID(u.Syscall(abi.SysGetenvid, 0, 0, 0, 0, 0))
}

// SysEnvDestroy destroys the environment id; 0 is the caller.
func SysEnvDestroy(u Context, id abi.EnvID) error {
	return errFor(u.Syscall(abi.SysEnvDestroy, uint32(id), 0, 0, 0, 0))
}

// SysYield gives up the processor.
func SysYield(u Context) {
	u.Syscall(abi.SysYield, 0, 0, 0, 0, 0)
}

// SysPageAlloc maps a zeroed page at va in the address space of id.
func SysPageAlloc(u Context, id abi.EnvID, va uintptr, perm vmm.PageTableEntryFlag) error {
	return errFor(u.Syscall(abi.SysPageAlloc, uint32(id), uint32(va), uint32(perm), 0, 0))
}

// SysPageMap maps the page at srcVA of srcID at dstVA of dstID.
func SysPageMap(u Context, srcID abi.EnvID, srcVA uintptr, dstID abi.EnvID, dstVA uintptr, perm vmm.PageTableEntryFlag) error {
	return errFor(u.Syscall(abi.SysPageMap, uint32(srcID), uint32(srcVA), uint32(dstID), uint32(dstVA), uint32(perm)))
}

// SysPageUnmap unmaps the page at va of id.
func SysPageUnmap(u Context, id abi.EnvID, va uintptr) error {
	return errFor(u.Syscall(abi.SysPageUnmap, uint32(id), uint32(va), 0, 0, 0))
}

// SysExofork creates a child with a copy of the caller's registers and an
// empty address space. The child is not runnable; when it is eventually
// run, its copy of this call returns 0.
func SysExofork(u Context) (abi.EnvID, error) {
	ret := u.Syscall(abi.SysExofork, 0, 0, 0, 0, 0)
	if err := errFor(ret); err != nil {
		return 0, err
	}
	return abi.EnvID(ret), nil
}

// SysEnvSetStatus sets the status of id to runnable or not runnable.
func SysEnvSetStatus(u Context, id abi.EnvID, status abi.EnvStatus) error {
	return errFor(u.Syscall(abi.SysEnvSetStatus, uint32(id), uint32(status), 0, 0, 0))
}

// SysEnvSetPgfaultUpcall sets the page fault entry point of id.
func SysEnvSetPgfaultUpcall(u Context, id abi.EnvID, upcall uint32) error {
	return errFor(u.Syscall(abi.SysEnvSetPgfaultUpcall, uint32(id), upcall, 0, 0, 0))
}
