package machine

import (
	"runtime"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/env"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/trap"
)

var (
	errTripleFault   = &kernel.Error{Module: "machine", Message: "triple fault"}
	errBadTrampoline = &kernel.Error{Module: "machine", Message: "gate does not point to an entry trampoline"}
	errNoKernelStack = &kernel.Error{Module: "machine", Message: "no valid kernel stack in the task state"}
)

// enterKernel runs fn, which must end in a transfer to an environment or a
// stop, and returns where control went.
func (m *Machine) enterKernel(fn func()) (out outcome) {
	defer func() {
		switch sig := recover().(type) {
		case nil:
		case transferTo:
			out = outcome{to: sig.e}
		case stopSignal:
			out = outcome{stop: sig.reason}
		default:
			panic(sig)
		}
	}()

	fn()
	kfmt.Panic(trap.ErrNoReturn)
	return outcome{stop: StopHalted}
}

// checkGate performs the checks the processor applies to the descriptor
// of vector before delivering through it. On failure it returns the fault
// raised instead together with its error code.
func checkGate(vector gate.InterruptNumber, software bool) (gate.Gatedesc, gate.InterruptNumber, uint32, bool) {
	// The error code names the descriptor with the IDT bit set.
	code := uint32(vector)<<3 | 2

	desc, ok := gate.DescriptorAt(cpu.IDT(), vector)
	switch {
	case !ok:
		return desc, gate.GPFException, code, false
	case software && uint16(desc.DPL()) < abi.RPLUser:
		return desc, gate.GPFException, code, false
	case !desc.Present():
		return desc, gate.SegmentNotPresent, code, false
	}
	return desc, 0, 0, true
}

// deliver raises vector from user mode with the registers in regs. A
// failure while delivering turns into a general protection or
// segment-not-present fault, a failure delivering that into a double fault
// and a failure delivering the double fault resets the processor.
func (m *Machine) deliver(regs gate.Trapframe, vector gate.InterruptNumber, code uint32, software bool) {
	var desc gate.Gatedesc
	for faults := 0; ; faults++ {
		d, fault, faultCode, ok := checkGate(vector, software)
		if ok {
			desc = d
			break
		}

		switch faults {
		case 0:
			vector, code = fault, faultCode
		case 1:
			vector, code = gate.DoubleFault, 0
		default:
			kfmt.Panic(errTripleFault)
			return
		}
		software = false
	}

	t, ok := gate.TrampolineAt(desc.Offset())
	if !ok {
		kfmt.Panic(errBadTrampoline)
		return
	}

	// Crossing from user to kernel privilege switches to the stack named
	// by the loaded task state.
	if _, ts := cpu.TR(); ts == nil || ts.SS0 != abi.GDKD || ts.ESP0 == 0 {
		kfmt.Panic(errNoKernelStack)
		return
	}

	tf := regs
	tf.TrapNo = uint32(t.Vector)
	tf.Err = 0
	if t.ErrorCode {
		tf.Err = code
	}

	m.stats.Traps[t.Vector]++
	switch t.Vector {
	case gate.SystemCall:
		m.stats.Syscalls[abi.Syscall(tf.Regs.EAX)]++
	case gate.PageFaultException:
		m.stats.PageFaults++
	}

	trap.Trap(&tf)
	kfmt.Panic(trap.ErrNoReturn)
}

// handoff gives the processor to the user context of e. from is the
// context of the calling goroutine or nil for the goroutine that called
// Run. The calling goroutine blocks until the processor is handed back to
// it and exits if its environment was freed in the meantime.
func (m *Machine) handoff(from *User, e *env.Env) {
	target := m.users[e.ID]
	if target == nil {
		// Only reachable if the kernel ran an environment created
		// behind the machine's back.
		panic(errUnknownEnv)
	}

	target.regs = e.Tf
	m.running = target
	if target == from {
		return
	}

	dead := from != nil && from.dead
	if target.started {
		target.wake <- struct{}{}
	} else {
		target.started = true
		go target.start()
	}

	switch {
	case from == nil:
	case dead:
		runtime.Goexit()
	default:
		from.wait()
	}
}

// park stops the machine on behalf of u. Run returns reason and u blocks
// until it is handed the processor again.
func (m *Machine) park(u *User, reason StopReason) {
	m.running = nil
	dead := u.dead

	m.done <- reason
	if dead {
		runtime.Goexit()
	}
	u.wait()
}

// resume continues u after a kernel entry that ended with out.
func (m *Machine) resume(u *User, out outcome) {
	if out.to != nil {
		m.handoff(u, out.to)
		return
	}
	m.park(u, out.stop)
}
