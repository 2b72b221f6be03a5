package env

import (
	"bytes"
	"testing"

	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/pmm"
	"github.com/tc250/jos07/kernel/mm/vmm"
)

func newTestTable(t *testing.T, frames, size int) (*Table, *pmm.Allocator) {
	t.Helper()

	arena, err := pmm.NewArena(uintptr(frames) * mm.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = arena.Close() })

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })

	alloc := pmm.NewAllocator(arena, 1)
	return NewTable(alloc, size), alloc
}

func TestAlloc(t *testing.T) {
	table, alloc := newTestTable(t, 32, 4)
	freeBefore := alloc.FreeCount()

	e, err := table.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}

	if exp := abi.EnvID(1<<abi.EnvGenShift | 0); e.ID != exp {
		t.Errorf("expected first env id 0x%x; got 0x%x", exp, e.ID)
	}
	if e.Status != abi.EnvRunnable {
		t.Errorf("expected new env to be runnable; got %s", e.Status)
	}
	if !e.Tf.FromUser() || e.Tf.ESP != uint32(mm.UStackTop) || e.Tf.EFlags&abi.FLIF == 0 {
		t.Errorf("unexpected initial frame %+v", e.Tf)
	}
	if got := alloc.FreeCount(); got != freeBefore-1 {
		t.Errorf("expected the page directory to use one frame; free count went from %d to %d", freeBefore, got)
	}

	flags, selfErr := e.Pgdir.DirEntryFor(mm.UVPT)
	if selfErr != nil || !flags.Has(vmm.FlagPresent|vmm.FlagUserAccessible) {
		t.Errorf("expected the page directory to carry the self-map; got %v, %v", flags, selfErr)
	}

	t.Run("exhaust table", func(t *testing.T) {
		for i := 1; i < table.Size(); i++ {
			if _, err := table.Alloc(0); err != nil {
				t.Fatal(err)
			}
		}

		if _, err := table.Alloc(0); err != ErrNoFreeEnv {
			t.Errorf("expected ErrNoFreeEnv; got %v", err)
		}
	})
}

func TestGenerations(t *testing.T) {
	table, _ := newTestTable(t, 32, 4)

	e, _ := table.Alloc(0)
	oldID := e.ID
	table.Destroy(e)

	e2, err := table.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}

	if e2 != e {
		t.Fatal("expected the freed slot to be reused")
	}
	if e2.ID == oldID || e2.ID.Index() != oldID.Index() {
		t.Errorf("expected a new generation for slot %d; got 0x%x (was 0x%x)", oldID.Index(), e2.ID, oldID)
	}

	if _, err := table.Get(oldID, false); err != ErrBadEnv {
		t.Errorf("expected stale id to be rejected; got %v", err)
	}
}

func TestGet(t *testing.T) {
	table, _ := newTestTable(t, 64, 8)

	parent, _ := table.Alloc(0)
	child, _ := table.Alloc(parent.ID)
	other, _ := table.Alloc(0)

	if _, err := table.Get(0, false); err != ErrBadEnv {
		t.Errorf("expected id 0 without a current env to fail; got %v", err)
	}

	table.SetCurrent(parent)

	specs := []struct {
		descr     string
		id        abi.EnvID
		checkPerm bool
		exp       *Env
	}{
		{"current env by id 0", 0, true, parent},
		{"self", parent.ID, true, parent},
		{"child", child.ID, true, child},
		{"unrelated env without check", other.ID, false, other},
		{"unrelated env with check", other.ID, true, nil},
		{"unused slot", abi.EnvID(1<<abi.EnvGenShift | 5), false, nil},
		{"index beyond table", abi.EnvID(1<<abi.EnvGenShift | 9), false, nil},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			got, err := table.Get(spec.id, spec.checkPerm)
			if spec.exp == nil {
				if err != ErrBadEnv {
					t.Fatalf("expected ErrBadEnv; got %v", err)
				}
				return
			}

			if err != nil || got != spec.exp {
				t.Fatalf("expected env 0x%x; got %v, %v", spec.exp.ID, got, err)
			}
		})
	}
}

func TestFork(t *testing.T) {
	table, _ := newTestTable(t, 32, 4)

	parent, _ := table.Alloc(0)
	parent.Tf.Regs.EAX = uint32(abi.SysExofork)
	parent.Tf.Regs.EBX = 42
	parent.Tf.EIP = 0x800040

	var forked [2]*Env
	table.OnFork = func(child, parent *Env) { forked = [2]*Env{child, parent} }

	child, err := table.Fork(parent)
	if err != nil {
		t.Fatal(err)
	}

	if forked != [2]*Env{child, parent} {
		t.Error("expected OnFork to be invoked with the child and its parent")
	}
	if child.ParentID != parent.ID || child.Status != abi.EnvNotRunnable {
		t.Errorf("unexpected child state: parent 0x%x status %s", child.ParentID, child.Status)
	}

	exp := parent.Tf
	exp.Regs.EAX = 0
	if child.Tf != exp {
		t.Errorf("expected child frame %+v; got %+v", exp, child.Tf)
	}
	if child.Pgdir == parent.Pgdir {
		t.Error("expected the child to get its own page directory")
	}
}

func TestFreeReleasesMemory(t *testing.T) {
	table, alloc := newTestTable(t, 32, 4)
	freeBefore := alloc.FreeCount()

	e, _ := table.Alloc(0)
	frame, _ := alloc.AllocFrame(true)
	if err := e.Pgdir.Map(mm.PageFromAddress(mm.UText), frame, vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
		t.Fatal(err)
	}

	var freed *Env
	table.OnFree = func(e *Env) { freed = e }
	table.SetCurrent(e)
	table.Destroy(e)

	if freed != e {
		t.Error("expected OnFree to be invoked")
	}
	if table.Current() != nil {
		t.Error("expected destroying the current env to clear it")
	}
	if e.Status != abi.EnvFree || e.Pgdir != nil {
		t.Error("expected env to be marked free")
	}
	if got := alloc.FreeCount(); got != freeBefore {
		t.Errorf("expected all frames to be released; free count %d, want %d", got, freeBefore)
	}
	if got := len(table.All()); got != 0 {
		t.Errorf("expected no live envs; got %d", got)
	}
}

func TestRun(t *testing.T) {
	defer cpu.Reset()

	table, _ := newTestTable(t, 32, 4)
	e, _ := table.Alloc(0)

	t.Run("without hook", func(t *testing.T) {
		cpu.Reset()
		table.Run(e)

		if !cpu.Halted() {
			t.Error("expected a missing run hook to halt the CPU")
		}
	})

	t.Run("with hook", func(t *testing.T) {
		cpu.Reset()

		var ran *Env
		table.RunHook = func(e *Env) { ran = e }
		table.Run(e)

		if ran != e || table.Current() != e {
			t.Error("expected the env to become current and be handed to the hook")
		}
		if got := cpu.ActivePDT(); got != e.Pgdir.PhysAddr() {
			t.Errorf("expected CR3 to hold 0x%x; got 0x%x", e.Pgdir.PhysAddr(), got)
		}
		if e.Runs != 2 {
			t.Errorf("expected run count 2; got %d", e.Runs)
		}

		// The hook returned; this must be reported as a kernel panic.
		if !cpu.Halted() {
			t.Error("expected a returning run hook to halt the CPU")
		}
	})
}
