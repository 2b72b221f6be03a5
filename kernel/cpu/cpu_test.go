package cpu

import "testing"

func TestRegisters(t *testing.T) {
	defer Reset()
	Reset()

	WriteCR2(0xdeadb000)
	if got := ReadCR2(); got != 0xdeadb000 {
		t.Errorf("expected CR2 to be 0xdeadb000; got %x", got)
	}

	SwitchPDT(0x3000)
	if got := ActivePDT(); got != 0x3000 {
		t.Errorf("expected CR3 to be 0x3000; got %x", got)
	}

	FlushTLBEntry(0x1000)
	if got := TLBFlushes(); got != 2 {
		t.Errorf("expected 2 TLB flushes; got %d", got)
	}

	LoadIDT(PseudoDesc{Limit: 2047, Base: 0x1234})
	if got := IDT(); got.Limit != 2047 || got.Base != 0x1234 {
		t.Errorf("unexpected IDT register contents: %+v", got)
	}

	ts := &TaskState{ESP0: 0xf0000000, SS0: 0x10}
	LoadTR(0x28, ts)
	if sel, got := TR(); sel != 0x28 || got != ts {
		t.Errorf("unexpected task register contents: %x %+v", sel, got)
	}
}

func TestHalt(t *testing.T) {
	defer func() {
		Reset()
		SetHaltHook(nil)
	}()
	Reset()

	var hookCalled bool
	SetHaltHook(func() { hookCalled = true })

	Halt()

	if !Halted() {
		t.Error("expected Halted() to return true after Halt")
	}
	if !hookCalled {
		t.Error("expected halt hook to be invoked")
	}

	Reset()
	if Halted() {
		t.Error("expected Reset to clear the halted flag")
	}
}
