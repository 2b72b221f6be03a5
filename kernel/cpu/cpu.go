// Package cpu models the state of the single processor core that the kernel
// runs on: the control registers consulted by the paging and fault code, the
// loaded interrupt descriptor table and task register, and the halt line.
package cpu

// PseudoDesc is the operand of the LIDT instruction.
type PseudoDesc struct {
	Limit uint16
	Base  uintptr
}

// TaskState holds the fields of the hardware task state segment that the
// processor consults when a trap switches from user to kernel privilege.
type TaskState struct {
	ESP0 uint32
	SS0  uint16
}

type core struct {
	cr2    uintptr
	cr3    uintptr
	idtr   PseudoDesc
	tr     uint16
	tss    *TaskState
	halted bool

	tlbFlushes uint64
}

var (
	state core

	// haltHook is invoked by Halt after the halted flag is raised. The
	// machine uses it to unwind the executing context.
	haltHook func()
)

// Reset clears all register state. It is used when a machine is created.
func Reset() {
	state = core{}
}

// SetHaltHook installs the function invoked by Halt.
func SetHaltHook(fn func()) {
	haltHook = fn
}

// Halt stops instruction execution.
func Halt() {
	state.halted = true
	if haltHook != nil {
		haltHook()
	}
}

// Halted returns true if Halt has been called since the last Reset.
func Halted() bool {
	return state.halted
}

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uintptr {
	return state.cr2
}

// WriteCR2 latches a faulting linear address into CR2. It is invoked by the
// MMU right before a page fault is delivered.
func WriteCR2(addr uintptr) {
	state.cr2 = addr
}

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr) {
	state.cr3 = pdtPhysAddr
	state.tlbFlushes++
}

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr {
	return state.cr3
}

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(_ uintptr) {
	state.tlbFlushes++
}

// TLBFlushes returns the number of TLB flushes performed so far.
func TLBFlushes() uint64 {
	return state.tlbFlushes
}

// LoadIDT loads the interrupt descriptor table register.
func LoadIDT(desc PseudoDesc) {
	state.idtr = desc
}

// IDT returns the contents of the interrupt descriptor table register.
func IDT() PseudoDesc {
	return state.idtr
}

// LoadTR loads the task register with the supplied selector. The processor
// reads the kernel stack location from ts whenever a trap crosses from user
// to kernel privilege.
func LoadTR(sel uint16, ts *TaskState) {
	state.tr = sel
	state.tss = ts
}

// TR returns the loaded task register selector and its task state.
func TR() (uint16, *TaskState) {
	return state.tr, state.tss
}
