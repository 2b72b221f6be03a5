package gate

import (
	"sync"
	"unsafe"

	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/mm"
)

// Gate descriptor types.
const (
	typeInterruptGate = 0xe // 32-bit interrupt gate; clears IF on entry
	typeTrapGate      = 0xf // 32-bit trap gate; leaves IF untouched
)

// Gatedesc is an 8-byte descriptor of the interrupt descriptor table.
type Gatedesc struct {
	offLow uint16
	sel    uint16

	// args holds the argument count (5 bits) followed by 3 reserved
	// bits. Both must be zero for interrupt and trap gates.
	args uint8

	// attr holds the gate type (4 bits), the system segment flag (1 bit,
	// always zero), the descriptor privilege level (2 bits) and the
	// present bit.
	attr uint8

	offHigh uint16
}

// GatedescSize is the size of a gate descriptor in bytes.
const GatedescSize = 8

// Set fills in the descriptor. A trap gate leaves interrupts enabled on
// entry; an interrupt gate disables them. The dpl argument is the privilege
// level software needs to invoke the gate with an explicit int instruction.
func (g *Gatedesc) Set(trap bool, sel uint16, off uint32, dpl uint8) {
	typ := uint8(typeInterruptGate)
	if trap {
		typ = typeTrapGate
	}

	g.offLow = uint16(off)
	g.sel = sel
	g.args = 0
	g.attr = typ | (dpl&3)<<5 | 1<<7
	g.offHigh = uint16(off >> 16)
}

// Offset returns the entry point address of the gate.
func (g Gatedesc) Offset() uint32 {
	return uint32(g.offHigh)<<16 | uint32(g.offLow)
}

// Selector returns the code segment selector of the entry point.
func (g Gatedesc) Selector() uint16 {
	return g.sel
}

// DPL returns the descriptor privilege level.
func (g Gatedesc) DPL() uint8 {
	return (g.attr >> 5) & 3
}

// Present returns true if the descriptor is marked present.
func (g Gatedesc) Present() bool {
	return g.attr&(1<<7) != 0
}

// Trap returns true for trap gates and false for interrupt gates.
func (g Gatedesc) Trap() bool {
	return g.attr&0xf == typeTrapGate
}

// Trampoline describes the low-level entry point bound to a vector. The
// trampoline pushes its vector number and, if the processor does not push an
// error code for the vector, a zero in its place so that every Trapframe has
// the same layout.
type Trampoline struct {
	Vector InterruptNumber

	// ErrorCode is set when the processor pushes an error code itself.
	ErrorCode bool

	Name string
}

// trampolineBase is the address of the first entry trampoline. Trampolines
// are laid out every trampolineStride bytes in vector order.
const (
	trampolineBase   = uint32(mm.KernBase + 0x00100000)
	trampolineStride = 16
)

// Addr returns the address of the trampoline's first instruction.
func (t Trampoline) Addr() uint32 {
	return trampolineBase + uint32(t.Vector)*trampolineStride
}

// trampolines lists the vectors bound by Init.
var trampolines = []Trampoline{
	{DivideByZero, false, "divide_error"},
	{Debug, false, "debug_exception"},
	{NMI, false, "nmi"},
	{Breakpoint, false, "breakpoint_e"},
	{Overflow, false, "overflow"},
	{BoundRangeExceeded, false, "bounds_check"},
	{InvalidOpcode, false, "illegal_opcode"},
	{DeviceNotAvailable, false, "device_not_available"},
	{DoubleFault, true, "double_fault"},
	{InvalidTSS, true, "invalid_tss"},
	{SegmentNotPresent, true, "segment_not_present"},
	{StackSegmentFault, true, "stack_exception"},
	{GPFException, true, "general_protection_fault"},
	{PageFaultException, true, "page_fault"},
	{FloatingPointException, false, "floating_point_error"},
	{AlignmentCheck, true, "aligment_check"},
	{MachineCheck, false, "machine_check"},
	{SIMDFloatingPointException, false, "simd_floating_point_error"},
	{SystemCall, false, "system_call"},
	{IRQTimer, false, "irq_timer"},
	{IRQKeyboard, false, "irq_kbd"},
	{IRQIDE, false, "irq_ide"},
}

var (
	idt [256]Gatedesc
	ts  cpu.TaskState

	buildOnce sync.Once

	// the following functions are mocked by tests.
	loadIDTFn = cpu.LoadIDT
	loadTRFn  = cpu.LoadTR
)

// Init builds the interrupt descriptor table the first time it is called,
// installs the task state that points the processor at the kernel stack for
// traps out of user mode and loads both into the processor.
//
// The table is never modified after it has been built.
func Init() {
	buildOnce.Do(buildIDT)

	loadTRFn(abi.GDTSS, &ts)
	loadIDTFn(cpu.PseudoDesc{
		Limit: uint16(len(idt)*GatedescSize - 1),
		Base:  uintptr(unsafe.Pointer(&idt[0])),
	})
}

func buildIDT() {
	for _, t := range trampolines {
		var dpl uint8
		switch t.Vector {
		case Breakpoint, SystemCall:
			// user code may raise these with an explicit int
			dpl = 3
		}
		idt[t.Vector].Set(false, abi.GDKT, t.Addr(), dpl)
	}

	ts.ESP0 = uint32(mm.KStackTop)
	ts.SS0 = abi.GDKD
}

// Lookup returns the descriptor of the given vector.
func Lookup(vector InterruptNumber) Gatedesc {
	return idt[vector]
}

// Entries returns the trampolines bound to the table in vector order.
func Entries() []Trampoline {
	out := make([]Trampoline, 0, len(trampolines))
	for v := 0; v < len(idt); v++ {
		if t, ok := TrampolineAt(idt[v].Offset()); ok && idt[v].Present() {
			out = append(out, t)
		}
	}
	return out
}

// TrampolineAt returns the trampoline whose first instruction lives at addr.
func TrampolineAt(addr uint32) (Trampoline, bool) {
	if addr < trampolineBase || (addr-trampolineBase)%trampolineStride != 0 {
		return Trampoline{}, false
	}

	vector := (addr - trampolineBase) / trampolineStride
	for _, t := range trampolines {
		if uint32(t.Vector) == vector {
			return t, true
		}
	}
	return Trampoline{}, false
}

// DescriptorAt reads the descriptor for vector from the table described by
// desc, the way the processor does on trap delivery. The second result is
// false if the descriptor lies beyond the table limit.
func DescriptorAt(desc cpu.PseudoDesc, vector InterruptNumber) (Gatedesc, bool) {
	off := uintptr(vector) * GatedescSize
	if desc.Base == 0 || off+GatedescSize-1 > uintptr(desc.Limit) {
		return Gatedesc{}, false
	}

	return *(*Gatedesc)(unsafe.Pointer(desc.Base + off)), true
}
