package vmm

import (
	"fmt"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/mm"
)

// Fault describes an access that the MMU refused. Code holds the error code
// the processor pushes for a page fault.
type Fault struct {
	Addr uintptr
	Code uint32
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("page fault at 0x%08x (code %d)", f.Addr, f.Code)
}

// Translate performs the address translation the MMU carries out for an
// access to virtAddr and returns the physical address. Writes to read-only
// pages fault regardless of privilege.
func (pdt *PageDirectory) Translate(virtAddr uintptr, write, user bool) (uintptr, *Fault) {
	var code uint32
	if write {
		code |= FaultWrite
	}
	if user {
		code |= FaultUser
	}

	pde := pdt.entryAt(pdt.pdtFrame, mm.PDX(virtAddr))
	if !pde.HasFlags(FlagPresent) {
		return 0, &Fault{Addr: virtAddr, Code: code}
	}

	pte := pdt.entryAt(pde.Frame(), mm.PTX(virtAddr))
	if !pte.HasFlags(FlagPresent) {
		return 0, &Fault{Addr: virtAddr, Code: code}
	}

	if user && !(pde.HasFlags(FlagUserAccessible) && pte.HasFlags(FlagUserAccessible)) {
		return 0, &Fault{Addr: virtAddr, Code: code | FaultPresent}
	}

	if write && !(pde.HasFlags(FlagRW) && pte.HasFlags(FlagRW)) {
		return 0, &Fault{Addr: virtAddr, Code: code | FaultPresent}
	}

	return pte.Frame().Address() | (virtAddr & (mm.PageSize - 1)), nil
}

// HostAddr returns the host address backing virtAddr without any permission
// checks besides presence. Kernel code uses it after validating the range.
func (pdt *PageDirectory) HostAddr(virtAddr uintptr) (uintptr, *kernel.Error) {
	frame, _, err := pdt.Lookup(virtAddr)
	if err != nil {
		return 0, err
	}

	return pdt.alloc.HostAddr(frame) + (virtAddr & (mm.PageSize - 1)), nil
}

// CopyToUser writes src to the address space at virtAddr. The range must be
// mapped; permission bits are not consulted.
func (pdt *PageDirectory) CopyToUser(virtAddr uintptr, src []byte) *kernel.Error {
	for len(src) > 0 {
		hostAddr, err := pdt.HostAddr(virtAddr)
		if err != nil {
			return err
		}

		chunk := mm.PageSize - (virtAddr & (mm.PageSize - 1))
		if chunk > uintptr(len(src)) {
			chunk = uintptr(len(src))
		}

		copy(kernel.HostSlice(hostAddr, chunk), src)
		src = src[chunk:]
		virtAddr += chunk
	}

	return nil
}

// CopyFromUser fills dst with the contents of the address space at virtAddr.
func (pdt *PageDirectory) CopyFromUser(dst []byte, virtAddr uintptr) *kernel.Error {
	for len(dst) > 0 {
		hostAddr, err := pdt.HostAddr(virtAddr)
		if err != nil {
			return err
		}

		chunk := mm.PageSize - (virtAddr & (mm.PageSize - 1))
		if chunk > uintptr(len(dst)) {
			chunk = uintptr(len(dst))
		}

		copy(dst, kernel.HostSlice(hostAddr, chunk))
		dst = dst[chunk:]
		virtAddr += chunk
	}

	return nil
}

// UserMemCheck checks whether user code may access [virtAddr, virtAddr+size)
// with permissions perm|FlagPresent. On failure it returns the first
// offending address together with ErrUserMemory.
func (pdt *PageDirectory) UserMemCheck(virtAddr, size uintptr, perm PageTableEntryFlag) (uintptr, *kernel.Error) {
	perm |= FlagPresent

	end := virtAddr + size
	if end < virtAddr {
		return virtAddr, ErrUserMemory
	}

	for addr := mm.RoundDown(virtAddr, mm.PageSize); addr < end; addr += mm.PageSize {
		badAddr := addr
		if badAddr < virtAddr {
			badAddr = virtAddr
		}

		if addr >= mm.ULim {
			return badAddr, ErrUserMemory
		}

		pde := pdt.entryAt(pdt.pdtFrame, mm.PDX(addr))
		if !pde.HasFlags(perm) {
			return badAddr, ErrUserMemory
		}

		if pte := pdt.entryAt(pde.Frame(), mm.PTX(addr)); !pte.HasFlags(perm) {
			return badAddr, ErrUserMemory
		}

		// Guard against wrap-around at the top of the address space.
		if addr+mm.PageSize < addr {
			break
		}
	}

	return 0, nil
}
