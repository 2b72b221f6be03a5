package ulib

import (
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/vmm"
)

// call is a system call issued through a fakeContext.
type call struct {
	Num  abi.Syscall
	Args [5]uint32
}

// fakeContext records system calls and serves memory and page table reads
// from maps.
type fakeContext struct {
	regs    gate.Trapframe
	mem     map[uintptr]byte
	pages   map[uintptr]vmm.PageTableEntryFlag
	text    map[uint32]Text
	resume  Text
	handler PgfaultHandler
	ints    []uint8
	steps   int

	calls []call

	// sysFn computes syscall results; nil returns 0 for everything.
	sysFn func(c call) int32
}

func newFake() *fakeContext {
	f := &fakeContext{
		mem:   make(map[uintptr]byte),
		pages: make(map[uintptr]vmm.PageTableEntryFlag),
		text:  make(map[uint32]Text),
	}
	f.regs.ESP = uint32(mm.UStackTop)
	return f
}

func (f *fakeContext) Syscall(num abi.Syscall, a1, a2, a3, a4, a5 uint32) int32 {
	c := call{Num: num, Args: [5]uint32{a1, a2, a3, a4, a5}}
	f.calls = append(f.calls, c)
	if f.sysFn != nil {
		return f.sysFn(c)
	}
	return 0
}

func (f *fakeContext) Int(vector uint8) { f.ints = append(f.ints, vector) }

func (f *fakeContext) Step() { f.steps++ }

func (f *fakeContext) ReadMem(va uintptr, buf []byte) {
	for i := range buf {
		buf[i] = f.mem[va+uintptr(i)]
	}
}

func (f *fakeContext) WriteMem(va uintptr, buf []byte) {
	for i, b := range buf {
		f.mem[va+uintptr(i)] = b
	}
}

func (f *fakeContext) Regs() *gate.Trapframe { return &f.regs }

func (f *fakeContext) EntryFor(va uintptr) (vmm.PageTableEntryFlag, error) {
	if _, err := f.DirEntryFor(va); err != nil {
		return 0, err
	}
	return f.pages[mm.RoundDown(va, mm.PageSize)], nil
}

func (f *fakeContext) DirEntryFor(va uintptr) (vmm.PageTableEntryFlag, error) {
	region := mm.RoundDown(va, mm.PTSize)
	for page := range f.pages {
		if mm.RoundDown(page, mm.PTSize) == region {
			return vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible, nil
		}
	}
	return 0, nil
}

func (f *fakeContext) SetText(addr uint32, text Text) { f.text[addr] = text }

func (f *fakeContext) SetResumePoint(text Text) { f.resume = text }

func (f *fakeContext) PgfaultHandler() PgfaultHandler { return f.handler }

func (f *fakeContext) StorePgfaultHandler(h PgfaultHandler) { f.handler = h }

// syscalls returns the numbers of the recorded calls.
func (f *fakeContext) syscalls() []abi.Syscall {
	out := make([]abi.Syscall, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Num)
	}
	return out
}

func sysCall(num abi.Syscall, args ...uint32) call {
	c := call{Num: num}
	copy(c.Args[:], args)
	return c
}
