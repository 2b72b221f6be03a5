// Package trap receives every trap, exception and interrupt delivered through
// the interrupt descriptor table and routes it to the kernel subsystem that
// handles it.
package trap

import (
	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/env"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/kfmt"
)

var (
	// ErrKernelPageFault is raised when the kernel itself faults.
	ErrKernelPageFault = &kernel.Error{Module: "trap", Message: "page fault in kernel mode"}

	// ErrUnhandledKernelTrap is raised for an unexpected trap taken in
	// kernel mode.
	ErrUnhandledKernelTrap = &kernel.Error{Module: "trap", Message: "unhandled trap in kernel"}

	// ErrNoReturn is raised when a transfer of control that must not
	// return did.
	ErrNoReturn = &kernel.Error{Module: "trap", Message: "control returned from a transfer that never returns"}

	// ErrSyscallInval is raised when the system call dispatcher reports
	// an invalid argument.
	ErrSyscallInval = &kernel.Error{Module: "trap", Message: "system call returned -E_INVAL"}

	// ErrNoCurrentEnv is raised for a user mode trap taken while no
	// environment is current.
	ErrNoCurrentEnv = &kernel.Error{Module: "trap", Message: "trap from user mode without a current environment"}
)

// Services are the kernel subsystems that trap dispatch hands control to.
type Services struct {
	Envs *env.Table

	// Yield runs another environment and does not return.
	Yield func()

	// Syscall dispatches a system call and returns the value for the
	// return register.
	Syscall func(num abi.Syscall, a1, a2, a3, a4, a5 uint32) int32

	// Monitor runs the kernel monitor for a breakpoint trap.
	Monitor func(tf *gate.Trapframe)
}

var (
	envs *env.Table

	// the following functions are mocked by tests.
	readCR2Fn  = cpu.ReadCR2
	panicFn    = kfmt.Panic
	runFn      func(e *env.Env)
	yieldFn    func()
	syscallFn  func(num abi.Syscall, a1, a2, a3, a4, a5 uint32) int32
	monitorFn  func(tf *gate.Trapframe)
	dumpSinkFn = kfmt.GetOutputSink
)

// Init builds and loads the interrupt descriptor table and binds trap
// dispatch to the supplied services.
func Init(s Services) {
	envs = s.Envs
	runFn = s.Envs.Run
	yieldFn = s.Yield
	syscallFn = s.Syscall
	monitorFn = s.Monitor

	gate.Init()
}

// Trap handles a trap described by the frame that the entry trampoline
// pushed on the kernel stack. For traps out of user mode the frame is first
// saved in the current environment and the saved copy is used from then on.
//
// Trap does not return: it either resumes the current environment or yields
// to the scheduler.
func Trap(tf *gate.Trapframe) {
	if tf.FromUser() {
		cur := envs.Current()
		if cur == nil {
			panicFn(ErrNoCurrentEnv)
			return
		}

		// Copy the frame so that running the environment restarts it
		// at the trap point; the stack copy is ignored from here on.
		cur.Tf = *tf
		tf = &cur.Tf
	}

	dispatch(tf)

	// No other environment was scheduled; resume the current one if it
	// still makes sense.
	if cur := envs.Current(); cur != nil && cur.Status == abi.EnvRunnable {
		runFn(cur)
		return
	}
	yieldFn()
}

func dispatch(tf *gate.Trapframe) {
	switch tf.TrapNo {
	case uint32(gate.PageFaultException):
		pageFault(tf)
		return
	case uint32(gate.Breakpoint):
		monitorFn(tf)
		return
	case uint32(gate.SystemCall):
		ret := syscallFn(
			abi.Syscall(tf.Regs.EAX),
			tf.Regs.EDX,
			tf.Regs.ECX,
			tf.Regs.EBX,
			tf.Regs.EDI,
			tf.Regs.ESI,
		)
		if ret == abi.EInval.Ret() {
			panicFn(ErrSyscallInval)
			return
		}
		tf.Regs.EAX = uint32(ret)
		return
	case uint32(gate.IRQTimer):
		yieldFn()
		panicFn(ErrNoReturn)
		return
	}

	// Unexpected trap: the user process or the kernel has a bug.
	tf.DumpTo(dumpSinkFn())
	if !tf.FromUser() {
		panicFn(ErrUnhandledKernelTrap)
		return
	}
	envs.Destroy(envs.Current())
}
