package machine

import (
	"runtime"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/env"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/vmm"
	"github.com/tc250/jos07/ulib"
)

// Instruction addresses handed out to user code cycle through this window
// above the image's text.
const (
	pcBase  = uint32(mm.UText + 0x10000)
	pcLimit = pcBase + 0x300000
)

// User is the processor as seen by the user text of one environment. Its
// methods run on the environment's goroutine while it owns the processor.
type User struct {
	m   *Machine
	env *env.Env

	// regs is the live register file. It is loaded from env.Tf whenever
	// the kernel hands the processor to this environment.
	regs gate.Trapframe

	text    map[uint32]ulib.Text
	handler ulib.PgfaultHandler
	resume  ulib.Text

	// pc is the address of the instruction being executed. lastRet is
	// the address the most recent kernel entry returned to; a text that
	// returns while EIP still holds it has fallen off its end.
	pc      uint32
	lastRet uint32
	ticks   int

	wake    chan struct{}
	started bool
	dead    bool
}

var _ ulib.Context = (*User)(nil)

func newUser(m *Machine, e *env.Env) *User {
	return &User{
		m:    m,
		env:  e,
		text: make(map[uint32]ulib.Text),
		pc:   pcBase,
		wake: make(chan struct{}),
	}
}

// start is the body of the environment's goroutine.
func (u *User) start() {
	for {
		u.execute(u.regs.EIP)
	}
}

func (u *User) wait() {
	<-u.wake
	if u.dead {
		runtime.Goexit()
	}
}

// step accounts for one instruction. The timer interrupt is raised once
// every TimerQuantum instructions while interrupts are enabled.
func (u *User) step() {
	if u.m.canceled.Load() {
		u.regs.EIP = u.pc
		u.lastRet = u.pc
		u.env.Tf = u.regs
		u.m.park(u, StopCanceled)
	}

	u.pc += 4
	if u.pc >= pcLimit {
		u.pc = pcBase
	}

	if quantum := u.m.cfg.TimerQuantum; quantum > 0 && u.regs.EFlags&abi.FLIF != 0 {
		if u.ticks++; u.ticks >= quantum {
			u.ticks = 0
			u.enter(gate.IRQTimer, 0, false, u.pc)
		}
	}
}

// enter traps into the kernel. retEIP is where the processor resumes
// once the kernel returns to this environment.
func (u *User) enter(vector gate.InterruptNumber, code uint32, software bool, retEIP uint32) {
	u.regs.EIP = retEIP
	frame := u.regs

	out := u.m.enterKernel(func() {
		u.m.deliver(frame, vector, code, software)
	})
	u.m.resume(u, out)

	u.resumeAt(retEIP)
}

// resumeAt runs whatever code the kernel directed the processor to until
// it returns to retEIP.
func (u *User) resumeAt(retEIP uint32) {
	for u.regs.EIP != retEIP {
		u.execute(u.regs.EIP)
	}
	u.lastRet = retEIP
}

// execute runs the text at addr. An address without text raises an
// invalid opcode fault.
func (u *User) execute(addr uint32) {
	text, ok := u.text[addr]
	if !ok {
		u.enter(gate.InvalidOpcode, 0, false, addr)
		return
	}

	u.regs.EIP = addr
	u.lastRet = addr
	text(u)

	if u.regs.EIP == u.lastRet {
		ulib.Exit(u)
	}
}

// Syscall implements ulib.Context.
func (u *User) Syscall(num abi.Syscall, a1, a2, a3, a4, a5 uint32) int32 {
	u.step()

	r := &u.regs.Regs
	r.EAX, r.EDX, r.ECX, r.EBX, r.EDI, r.ESI = uint32(num), a1, a2, a3, a4, a5

	// int $0x30 is two bytes long.
	retEIP := u.pc + 2
	if u.resume != nil {
		u.text[retEIP] = u.resume
		u.resume = nil
		defer delete(u.text, retEIP)
	}

	u.enter(gate.SystemCall, 0, true, retEIP)
	return int32(u.regs.Regs.EAX)
}

// Int implements ulib.Context.
func (u *User) Int(vector uint8) {
	u.step()
	u.enter(gate.InterruptNumber(vector), 0, true, u.pc+2)
}

// Step implements ulib.Context.
func (u *User) Step() {
	u.step()
}

// ReadMem implements ulib.Context.
func (u *User) ReadMem(va uintptr, buf []byte) {
	u.access(va, len(buf), false, func(host uintptr, off, n int) {
		copy(buf[off:off+n], kernel.HostSlice(host, uintptr(n)))
	})
}

// WriteMem implements ulib.Context.
func (u *User) WriteMem(va uintptr, buf []byte) {
	u.access(va, len(buf), true, func(host uintptr, off, n int) {
		copy(kernel.HostSlice(host, uintptr(n)), buf[off:off+n])
	})
}

// access performs a user mode access of size bytes at va one page at a
// time. Each page is translated by the MMU; a refused translation raises a
// page fault and the access is retried once the kernel returns.
func (u *User) access(va uintptr, size int, write bool, copyFn func(host uintptr, off, n int)) {
	for off := 0; off < size; {
		u.step()

		addr := va + uintptr(off)
		n := int(mm.PageSize - addr&(mm.PageSize-1))
		if n > size-off {
			n = size - off
		}

		pa := u.translate(addr, write)
		copyFn(u.m.arena.HostAddr(pa), off, n)
		off += n
	}
}

func (u *User) translate(addr uintptr, write bool) uintptr {
	for {
		pa, fault := u.env.Pgdir.Translate(addr, write, true)
		if fault == nil {
			return pa
		}

		cpu.WriteCR2(addr)
		u.enter(gate.PageFaultException, fault.Code, false, u.pc)
	}
}

// Regs implements ulib.Context.
func (u *User) Regs() *gate.Trapframe {
	return &u.regs
}

// EntryFor implements ulib.Context.
func (u *User) EntryFor(va uintptr) (vmm.PageTableEntryFlag, error) {
	u.step()
	return u.env.Pgdir.EntryFor(va)
}

// DirEntryFor implements ulib.Context.
func (u *User) DirEntryFor(va uintptr) (vmm.PageTableEntryFlag, error) {
	u.step()
	return u.env.Pgdir.DirEntryFor(va)
}

// SetText implements ulib.Context.
func (u *User) SetText(addr uint32, text ulib.Text) {
	u.text[addr] = text
}

// SetResumePoint implements ulib.Context.
func (u *User) SetResumePoint(text ulib.Text) {
	u.resume = text
}

// PgfaultHandler implements ulib.Context.
func (u *User) PgfaultHandler() ulib.PgfaultHandler {
	return u.handler
}

// StorePgfaultHandler implements ulib.Context.
func (u *User) StorePgfaultHandler(h ulib.PgfaultHandler) {
	u.handler = h
}
