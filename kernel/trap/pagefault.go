package trap

import (
	"unsafe"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/env"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/vmm"
)

var (
	// ErrExceptionStackOverflow is reported when a recursive fault would
	// place its frame below the user exception stack.
	ErrExceptionStackOverflow = &kernel.Error{Module: "trap", Message: "user exception stack overflow"}

	// ErrExceptionStackInvalid is reported when the memory that would
	// receive a fault frame is not mapped user writable.
	ErrExceptionStackInvalid = &kernel.Error{Module: "trap", Message: "user exception stack not writable"}
)

// scratchSize is the word left free above every fault frame. The upcall
// return sequence stores the trap-time EIP there.
const scratchSize = 4

// pageFault handles a page fault. Kernel mode faults are fatal. User mode
// faults are reflected to the upcall of the environment by pushing a
// UTrapframe on its exception stack; environments without an upcall are
// destroyed.
func pageFault(tf *gate.Trapframe) {
	faultVA := readCR2Fn()

	if !tf.FromUser() {
		panicFn(ErrKernelPageFault)
		return
	}

	cur := envs.Current()
	if cur.PgfaultUpcall == 0 {
		kfmt.Printf("[%08x] user fault va %08x ip %08x\n", uint32(cur.ID), faultVA, tf.EIP)
		tf.DumpTo(dumpSinkFn())
		envs.Destroy(cur)
		return
	}

	utfAddr, badAddr, err := placeUTrapframe(cur, tf.ESP)
	switch err {
	case nil:
	case ErrExceptionStackInvalid:
		kfmt.Printf("[%08x] user_mem_check assertion failure for va %08x\n", uint32(cur.ID), badAddr)
		envs.Destroy(cur)
		return
	default:
		kfmt.Printf("[%08x] %s: frame at %08x\n", uint32(cur.ID), err.Message, utfAddr)
		envs.Destroy(cur)
		return
	}

	utf := gate.UTrapframe{
		FaultVA: uint32(faultVA),
		Err:     tf.Err,
		Regs:    tf.Regs,
		EIP:     tf.EIP,
		EFlags:  tf.EFlags,
		ESP:     tf.ESP,
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&utf)), gate.UTrapframeSize)
	if err = cur.Pgdir.CopyToUser(utfAddr, raw); err != nil {
		envs.Destroy(cur)
		return
	}

	tf.ESP = uint32(utfAddr)
	tf.EIP = cur.PgfaultUpcall
	runFn(cur)
	panicFn(ErrNoReturn)
}

// placeUTrapframe returns the address of the fault frame for a fault taken
// with the stack pointer at esp. A fault taken while already running on the
// exception stack nests its frame below esp; any other fault uses the top of
// the exception stack. In both cases one scratch word separates the frame
// from the trap-time stack top.
//
// If the frame memory fails validation, the first offending address is
// returned alongside ErrExceptionStackInvalid.
func placeUTrapframe(e *env.Env, esp uint32) (uintptr, uintptr, *kernel.Error) {
	const frameSize = gate.UTrapframeSize + scratchSize

	top := mm.UXStackTop
	if sp := uintptr(esp); sp >= mm.UXStackBase && sp < mm.UXStackTop {
		top = sp
	}

	if top < mm.UXStackBase+frameSize {
		return top - frameSize, 0, ErrExceptionStackOverflow
	}
	utfAddr := top - frameSize

	perm := vmm.FlagPresent | vmm.FlagUserAccessible | vmm.FlagRW
	if badAddr, err := e.Pgdir.UserMemCheck(utfAddr, frameSize, perm); err != nil {
		return utfAddr, badAddr, ErrExceptionStackInvalid
	}

	return utfAddr, 0, nil
}
