// Package gate defines the frames captured when the processor enters the
// kernel through the interrupt descriptor table and the builder that
// populates that table.
package gate

import (
	"io"

	"github.com/tc250/jos07/kernel/kfmt"
)

// PushRegs contains the general purpose registers in the order pushed by
// the PUSHAL instruction.
type PushRegs struct {
	EDI  uint32
	ESI  uint32
	EBP  uint32
	OESP uint32 // useless
	EBX  uint32
	EDX  uint32
	ECX  uint32
	EAX  uint32
}

// Trapframe contains a snapshot of the execution context at the time an
// exception, interrupt or system call occurred. The layout matches what the
// processor and the entry trampolines push on the kernel stack.
type Trapframe struct {
	Regs     PushRegs
	ES       uint16
	padding1 uint16
	DS       uint16
	padding2 uint16
	TrapNo   uint32

	// below here defined by x86 hardware
	Err      uint32
	EIP      uint32
	CS       uint16
	padding3 uint16
	EFlags   uint32

	// below here only when crossing rings, such as from user to kernel
	ESP      uint32
	SS       uint16
	padding4 uint16
}

// UTrapframe is the frame the kernel pushes on the user exception stack
// before it invokes a page fault upcall.
type UTrapframe struct {
	FaultVA uint32
	Err     uint32
	Regs    PushRegs

	// trap-time return state
	EIP    uint32
	EFlags uint32
	ESP    uint32
}

// Frame sizes in bytes.
const (
	PushRegsSize   = 32
	TrapframeSize  = 68
	UTrapframeSize = 52
)

// FromUser returns true if the frame was captured while the processor was
// executing at user privilege.
func (tf *Trapframe) FromUser() bool {
	return tf.CS&3 == 3
}

// DumpTo outputs the frame contents to w.
func (tf *Trapframe) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "TRAP frame at %p\n", tf)
	tf.Regs.DumpTo(w)
	kfmt.Fprintf(w, "  es   0x----%04x\n", tf.ES)
	kfmt.Fprintf(w, "  ds   0x----%04x\n", tf.DS)
	kfmt.Fprintf(w, "  trap 0x%08x %s\n", tf.TrapNo, TrapName(tf.TrapNo))
	kfmt.Fprintf(w, "  err  0x%08x\n", tf.Err)
	kfmt.Fprintf(w, "  eip  0x%08x\n", tf.EIP)
	kfmt.Fprintf(w, "  cs   0x----%04x\n", tf.CS)
	kfmt.Fprintf(w, "  flag 0x%08x\n", tf.EFlags)
	kfmt.Fprintf(w, "  esp  0x%08x\n", tf.ESP)
	kfmt.Fprintf(w, "  ss   0x----%04x\n", tf.SS)
}

// DumpTo outputs the register contents to w.
func (r *PushRegs) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "  edi  0x%08x\n", r.EDI)
	kfmt.Fprintf(w, "  esi  0x%08x\n", r.ESI)
	kfmt.Fprintf(w, "  ebp  0x%08x\n", r.EBP)
	kfmt.Fprintf(w, "  oesp 0x%08x\n", r.OESP)
	kfmt.Fprintf(w, "  ebx  0x%08x\n", r.EBX)
	kfmt.Fprintf(w, "  edx  0x%08x\n", r.EDX)
	kfmt.Fprintf(w, "  ecx  0x%08x\n", r.ECX)
	kfmt.Fprintf(w, "  eax  0x%08x\n", r.EAX)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// Debug is raised by debug register conditions and single stepping.
	Debug = InterruptNumber(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Breakpoint is raised by the INT3 instruction.
	Breakpoint = InterruptNumber(3)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an FPU
	// instruction while no FPU is available.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a gate
	// that is not marked present.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when the stack base/limit checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction
	// while an unmasked FP exception is pending.
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligmed memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs.
	SIMDFloatingPointException = InterruptNumber(19)

	// IRQOffset is the vector that hardware interrupt line 0 is remapped to.
	IRQOffset = InterruptNumber(32)

	// IRQTimer is the vector of the programmable interval timer.
	IRQTimer = IRQOffset + 0

	// IRQKeyboard is the vector of the keyboard controller.
	IRQKeyboard = IRQOffset + 1

	// IRQIDE is the vector of the primary IDE controller.
	IRQIDE = IRQOffset + 14

	// SystemCall is the vector used by user code to invoke the kernel.
	SystemCall = InterruptNumber(48)
)

var excNames = [...]string{
	"Divide error",
	"Debug",
	"Non-Maskable Interrupt",
	"Breakpoint",
	"Overflow",
	"BOUND Range Exceeded",
	"Invalid Opcode",
	"Device Not Available",
	"Double Falt",
	"Coprocessor Segment Overrun",
	"Invalid TSS",
	"Segment Not Present",
	"Stack Fault",
	"General Protection",
	"Page Fault",
	"(unknown trap)",
	"x87 FPU Floating-Point Error",
	"Alignment Check",
	"Machine-Check",
	"SIMD Floating-Point Exception",
}

// TrapName returns a human readable description of a trap number.
func TrapName(trapNo uint32) string {
	switch {
	case trapNo < uint32(len(excNames)):
		return excNames[trapNo]
	case trapNo == uint32(SystemCall):
		return "System call"
	case trapNo >= uint32(IRQOffset) && trapNo < uint32(IRQOffset)+16:
		return "Hardware Interrupt"
	}
	return "(unknown trap)"
}
