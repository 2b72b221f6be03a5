// Package vmm implements two-level page tables stored in physical memory, the
// translation performed by the MMU and the self-mapped view that exposes the
// active page tables to user code.
package vmm

import (
	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/mm"
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint32

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the MMU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the MMU when this page is modified.
	FlagDirty

	// FlagHugePage is set when using 4Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when swapping page tables.
	FlagGlobal
)

const (
	// FlagAvail covers the three entry bits the hardware leaves to software.
	FlagAvail PageTableEntryFlag = 0xe00

	// FlagCopyOnWrite marks a page as copy-on-write. It lives in the
	// software-available bits. This flag and FlagRW are mutually
	// exclusive.
	FlagCopyOnWrite PageTableEntryFlag = 0x800

	// FlagSyscall is the set of flags user code may pass to the page
	// mapping system calls.
	FlagSyscall = FlagAvail | FlagPresent | FlagRW | FlagUserAccessible

	// flagMask covers the permission bits of an entry.
	flagMask = PageTableEntryFlag(0xfff)

	// ptePhysPageMask extracts the physical frame address from an entry.
	ptePhysPageMask = uint32(0xfffff000)
)

// Page fault error code bits pushed by the processor.
const (
	// FaultPresent is set when the fault was a protection violation on
	// a present page; cleared when the page was not present.
	FaultPresent uint32 = 1 << iota

	// FaultWrite is set when the faulting access was a write.
	FaultWrite

	// FaultUser is set when the fault occurred in user mode.
	FaultUser
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrOutOfRange is returned by the self-map queries for addresses
	// that the calling context may not inspect.
	ErrOutOfRange = &kernel.Error{Module: "vmm", Message: "virtual address outside of the inspectable range"}

	// ErrUserMemory is returned by UserMemCheck when a range fails the
	// permission check.
	ErrUserMemory = &kernel.Error{Module: "vmm", Message: "user memory check failed"}
)

// pageTableEntry describes a page table or page directory entry. These
// entries encode a physical frame address and a set of flags.
type pageTableEntry uint32

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) | uint32(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) &^ uint32(flags))
}

// Flags returns the permission bits of the entry.
func (pte pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(pte) & flagMask
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uint32(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame .
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uint32(*pte) &^ ptePhysPageMask) | uint32(frame.Address()))
}

// Has returns true if all of the supplied flags are set.
func (f PageTableEntryFlag) Has(flags PageTableEntryFlag) bool {
	return f&flags == flags
}
