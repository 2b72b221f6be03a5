// Package ulib is the library linked into every user environment: system
// call wrappers, console output, the page fault upcall machinery and
// copy-on-write fork.
package ulib

import (
	"encoding/binary"
	"unsafe"

	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/vmm"
)

// Text is a piece of user code. A Text that returns without changing the
// instruction pointer ends the environment.
type Text func(u Context)

// PgfaultHandler is invoked by the page fault upcall with the frame the
// kernel pushed on the exception stack.
type PgfaultHandler func(u Context, utf *gate.UTrapframe)

// Context is the processor as seen from user mode. Every method that
// touches memory or the kernel counts as an instruction and may be
// interrupted.
type Context interface {
	// Syscall executes the system call instruction with the call
	// number in EAX and the arguments in EDX, ECX, EBX, EDI and ESI. It
	// returns the value of EAX once the kernel resumes the environment.
	Syscall(num abi.Syscall, a1, a2, a3, a4, a5 uint32) int32

	// Int executes a software interrupt instruction.
	Int(vector uint8)

	// Step executes an instruction that neither touches memory nor
	// enters the kernel.
	Step()

	// ReadMem and WriteMem access user memory. Accesses that the MMU
	// refuses raise a page fault; they complete once the fault has been
	// resolved and never return if the environment is destroyed.
	ReadMem(va uintptr, buf []byte)
	WriteMem(va uintptr, buf []byte)

	// Regs returns the live register file.
	Regs() *gate.Trapframe

	// EntryFor and DirEntryFor read the page table and page directory
	// entries for va through the read-only UVPT window.
	EntryFor(va uintptr) (vmm.PageTableEntryFlag, error)
	DirEntryFor(va uintptr) (vmm.PageTableEntryFlag, error)

	// SetText places code at addr.
	SetText(addr uint32, text Text)

	// SetResumePoint places text at the return address of the next
	// system call. A child created by that call starts there.
	SetResumePoint(text Text)

	// PgfaultHandler and StorePgfaultHandler access the handler
	// variable used by the page fault upcall.
	PgfaultHandler() PgfaultHandler
	StorePgfaultHandler(h PgfaultHandler)
}

// PgfaultUpcall is the address of the page fault entry trampoline.
const PgfaultUpcall = uint32(mm.UText + 0x8000)

// ReadUint32 reads a 32-bit little endian word from va.
func ReadUint32(u Context, va uintptr) uint32 {
	var b [4]byte
	u.ReadMem(va, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// WriteUint32 writes a 32-bit little endian word to va.
func WriteUint32(u Context, va uintptr, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	u.WriteMem(va, b[:])
}

// ReadUTrapframe reads the fault frame stored at va.
func ReadUTrapframe(u Context, va uintptr) gate.UTrapframe {
	var utf gate.UTrapframe
	u.ReadMem(va, unsafe.Slice((*byte)(unsafe.Pointer(&utf)), gate.UTrapframeSize))
	return utf
}
