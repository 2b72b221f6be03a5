package vmm

import (
	"unsafe"

	"github.com/tc250/jos07/kernel/mm"
)

// vpd is the address at which the self-map exposes the page directory.
var vpd = mm.UVPT + uintptr(mm.PDX(mm.UVPT))<<mm.PageShift

// EntryFor returns the flags of the page table entry for virtAddr, read with
// user privilege through the UVPT window. ErrInvalidMapping is returned when
// the page table covering virtAddr is absent (reading it would fault) and
// ErrOutOfRange for addresses at or above mm.ULim.
func (pdt *PageDirectory) EntryFor(virtAddr uintptr) (PageTableEntryFlag, error) {
	if virtAddr >= mm.ULim {
		return 0, ErrOutOfRange
	}

	return pdt.readSelfMap(mm.UVPT + mm.VPN(virtAddr)<<mm.PointerShift)
}

// DirEntryFor returns the flags of the page directory entry covering
// virtAddr, read with user privilege through the UVPT window.
func (pdt *PageDirectory) DirEntryFor(virtAddr uintptr) (PageTableEntryFlag, error) {
	if virtAddr >= mm.ULim {
		return 0, ErrOutOfRange
	}

	return pdt.readSelfMap(vpd + uintptr(mm.PDX(virtAddr))<<mm.PointerShift)
}

func (pdt *PageDirectory) readSelfMap(entryAddr uintptr) (PageTableEntryFlag, error) {
	physAddr, fault := pdt.Translate(entryAddr, false, true)
	if fault != nil {
		return 0, ErrInvalidMapping
	}

	entry := *(*pageTableEntry)(unsafe.Pointer(pdt.alloc.Arena().HostAddr(physAddr)))
	return entry.Flags(), nil
}
