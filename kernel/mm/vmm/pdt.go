package vmm

import (
	"unsafe"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/pmm"
)

var (
	// the following functions are mocked by tests.
	activePDTFn     = cpu.ActivePDT
	flushTLBEntryFn = cpu.FlushTLBEntry

	errHugePage = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// PageDirectory describes the top-most table of the two-level paging scheme.
// The directory and all of its page tables live in frames obtained from the
// allocator.
type PageDirectory struct {
	pdtFrame mm.Frame
	alloc    *pmm.Allocator
}

// NewPageDirectory allocates an empty page directory and installs the
// read-only self-map at UVPT so the directory's own tables can be inspected
// through ordinary user reads.
func NewPageDirectory(alloc *pmm.Allocator) (*PageDirectory, *kernel.Error) {
	frame, err := alloc.AllocFrame(true)
	if err != nil {
		return nil, err
	}
	alloc.IncRef(frame)

	pdt := &PageDirectory{pdtFrame: frame, alloc: alloc}

	selfEntry := pdt.entryAt(frame, mm.PDX(mm.UVPT))
	selfEntry.SetFrame(frame)
	selfEntry.SetFlags(FlagPresent | FlagUserAccessible)

	return pdt, nil
}

// Frame returns the physical frame holding the directory.
func (pdt *PageDirectory) Frame() mm.Frame {
	return pdt.pdtFrame
}

// PhysAddr returns the physical address of the directory; this is the value
// loaded into CR3 when the directory is activated.
func (pdt *PageDirectory) PhysAddr() uintptr {
	return pdt.pdtFrame.Address()
}

// Allocator returns the frame allocator backing the directory.
func (pdt *PageDirectory) Allocator() *pmm.Allocator {
	return pdt.alloc
}

// Activate loads the directory into CR3.
func (pdt *PageDirectory) Activate() {
	cpu.SwitchPDT(pdt.PhysAddr())
}

func (pdt *PageDirectory) isActive() bool {
	return activePDTFn() == pdt.PhysAddr()
}

// entryAt returns a pointer to entry index of the table stored in frame.
func (pdt *PageDirectory) entryAt(frame mm.Frame, index int) *pageTableEntry {
	return (*pageTableEntry)(unsafe.Pointer(pdt.alloc.HostAddr(frame) + uintptr(index)<<mm.PointerShift))
}

// pteForAddress returns the final page table entry for virtAddr. If the page
// table covering the address does not exist and create is set, a zeroed
// table is allocated and installed; otherwise ErrInvalidMapping is returned.
func (pdt *PageDirectory) pteForAddress(virtAddr uintptr, create bool) (*pageTableEntry, *kernel.Error) {
	pde := pdt.entryAt(pdt.pdtFrame, mm.PDX(virtAddr))

	if pde.HasFlags(FlagHugePage) {
		return nil, errHugePage
	}

	if !pde.HasFlags(FlagPresent) {
		if !create {
			return nil, ErrInvalidMapping
		}

		tableFrame, err := pdt.alloc.AllocFrame(true)
		if err != nil {
			return nil, err
		}
		pdt.alloc.IncRef(tableFrame)

		// Directory entries are permissive; the final entry decides.
		*pde = 0
		pde.SetFrame(tableFrame)
		pde.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
	}

	return pdt.entryAt(pde.Frame(), mm.PTX(virtAddr)), nil
}

// Lookup returns the frame and flags of the mapping for virtAddr.
func (pdt *PageDirectory) Lookup(virtAddr uintptr) (mm.Frame, PageTableEntryFlag, *kernel.Error) {
	pte, err := pdt.pteForAddress(virtAddr, false)
	if err != nil {
		return mm.InvalidFrame, 0, err
	}

	if !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame, 0, ErrInvalidMapping
	}

	return pte.Frame(), pte.Flags(), nil
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing page tables are allocated on demand. If the page is already
// mapped, the previous mapping is replaced and its frame released. The
// reference count of frame is incremented.
func (pdt *PageDirectory) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	pte, err := pdt.pteForAddress(page.Address(), true)
	if err != nil {
		return err
	}

	// Take the new reference first so that re-inserting the frame that is
	// already mapped at this page does not free it.
	pdt.alloc.IncRef(frame)
	if pte.HasFlags(FlagPresent) {
		pdt.removeEntry(page, pte)
	}

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags | FlagPresent)

	return nil
}

// Unmap removes the mapping for page, if any, and releases its frame.
func (pdt *PageDirectory) Unmap(page mm.Page) {
	pte, err := pdt.pteForAddress(page.Address(), false)
	if err != nil || !pte.HasFlags(FlagPresent) {
		return
	}

	pdt.removeEntry(page, pte)
}

func (pdt *PageDirectory) removeEntry(page mm.Page, pte *pageTableEntry) {
	frame := pte.Frame()
	*pte = 0
	if pdt.isActive() {
		flushTLBEntryFn(page.Address())
	}
	pdt.alloc.DecRef(frame)
}

// VisitUserPages invokes visitor for each present page below mm.UTop in
// ascending address order. The visit stops when visitor returns false.
func (pdt *PageDirectory) VisitUserPages(visitor func(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) bool) {
	for pdx := 0; pdx < mm.PDX(mm.UTop); pdx++ {
		pde := pdt.entryAt(pdt.pdtFrame, pdx)
		if !pde.HasFlags(FlagPresent) {
			continue
		}

		for ptx := 0; ptx < mm.EntriesPerTable; ptx++ {
			pte := pdt.entryAt(pde.Frame(), ptx)
			if !pte.HasFlags(FlagPresent) {
				continue
			}

			page := mm.Page(pdx*mm.EntriesPerTable + ptx)
			if !visitor(page, pte.Frame(), pte.Flags()) {
				return
			}
		}
	}
}

// Free releases every user mapping, every page table below mm.UTop and the
// directory frame itself. The directory must not be used afterwards.
func (pdt *PageDirectory) Free() {
	for pdx := 0; pdx < mm.PDX(mm.UTop); pdx++ {
		pde := pdt.entryAt(pdt.pdtFrame, pdx)
		if !pde.HasFlags(FlagPresent) {
			continue
		}

		tableFrame := pde.Frame()
		for ptx := 0; ptx < mm.EntriesPerTable; ptx++ {
			pte := pdt.entryAt(tableFrame, ptx)
			if pte.HasFlags(FlagPresent) {
				pdt.removeEntry(mm.Page(pdx*mm.EntriesPerTable+ptx), pte)
			}
		}

		*pde = 0
		pdt.alloc.DecRef(tableFrame)
	}

	if pdt.isActive() {
		cpu.SwitchPDT(0)
	}
	pdt.alloc.DecRef(pdt.pdtFrame)
	pdt.pdtFrame = mm.InvalidFrame
}
