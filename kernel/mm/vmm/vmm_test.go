package vmm

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/pmm"
)

func newTestPDT(t *testing.T, frames int) *PageDirectory {
	t.Helper()

	arena, err := pmm.NewArena(uintptr(frames) * mm.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = arena.Close() })

	pdt, kerr := NewPageDirectory(pmm.NewAllocator(arena, 1))
	if kerr != nil {
		t.Fatal(kerr)
	}
	return pdt
}

func allocMapped(t *testing.T, pdt *PageDirectory, va uintptr, flags PageTableEntryFlag) mm.Frame {
	t.Helper()

	frame, err := pdt.Allocator().AllocFrame(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := pdt.Map(mm.PageFromAddress(va), frame, flags); err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestMapAndLookup(t *testing.T) {
	pdt := newTestPDT(t, 16)

	frame := allocMapped(t, pdt, mm.UText, FlagRW|FlagUserAccessible)

	gotFrame, gotFlags, err := pdt.Lookup(mm.UText + 0x123)
	if err != nil {
		t.Fatal(err)
	}
	if gotFrame != frame {
		t.Errorf("expected frame %d; got %d", frame, gotFrame)
	}
	if exp := FlagPresent | FlagRW | FlagUserAccessible; gotFlags != exp {
		t.Errorf("expected flags %x; got %x", exp, gotFlags)
	}
	if got := pdt.Allocator().RefCount(frame); got != 1 {
		t.Errorf("expected frame ref count 1; got %d", got)
	}

	if _, _, err := pdt.Lookup(mm.UText + mm.PageSize); err != ErrInvalidMapping {
		t.Errorf("expected ErrInvalidMapping for unmapped page in existing table; got %v", err)
	}
	if _, _, err := pdt.Lookup(0x10000000); err != ErrInvalidMapping {
		t.Errorf("expected ErrInvalidMapping for page without table; got %v", err)
	}
}

func TestMapReplacesExistingMapping(t *testing.T) {
	pdt := newTestPDT(t, 16)
	alloc := pdt.Allocator()
	page := mm.PageFromAddress(mm.UText)

	oldFrame := allocMapped(t, pdt, mm.UText, FlagRW|FlagUserAccessible)
	freeBefore := alloc.FreeCount()

	t.Run("same frame", func(t *testing.T) {
		if err := pdt.Map(page, oldFrame, FlagUserAccessible|FlagCopyOnWrite); err != nil {
			t.Fatal(err)
		}
		if got := alloc.RefCount(oldFrame); got != 1 {
			t.Fatalf("expected re-mapping the same frame to keep ref count 1; got %d", got)
		}
		_, flags, _ := pdt.Lookup(page.Address())
		if exp := FlagPresent | FlagUserAccessible | FlagCopyOnWrite; flags != exp {
			t.Fatalf("expected flags %x; got %x", exp, flags)
		}
	})

	t.Run("different frame", func(t *testing.T) {
		newFrame, _ := alloc.AllocFrame(false)
		if err := pdt.Map(page, newFrame, FlagRW|FlagUserAccessible); err != nil {
			t.Fatal(err)
		}
		if got := alloc.RefCount(oldFrame); got != 0 {
			t.Fatalf("expected old frame to be released; ref count %d", got)
		}
		if got := alloc.FreeCount(); got != freeBefore {
			t.Fatalf("expected free count %d; got %d", freeBefore, got)
		}
	})
}

func TestUnmap(t *testing.T) {
	defer func() {
		activePDTFn = cpu.ActivePDT
		flushTLBEntryFn = cpu.FlushTLBEntry
	}()

	pdt := newTestPDT(t, 16)
	allocMapped(t, pdt, mm.UText, FlagRW|FlagUserAccessible)

	var flushed []uintptr
	activePDTFn = func() uintptr { return pdt.PhysAddr() }
	flushTLBEntryFn = func(addr uintptr) { flushed = append(flushed, addr) }

	pdt.Unmap(mm.PageFromAddress(mm.UText))
	// unmapping twice is a no-op
	pdt.Unmap(mm.PageFromAddress(mm.UText))
	pdt.Unmap(mm.PageFromAddress(0x10000000))

	if _, _, err := pdt.Lookup(mm.UText); err != ErrInvalidMapping {
		t.Fatalf("expected page to be unmapped; got %v", err)
	}
	if diff := cmp.Diff([]uintptr{mm.UText}, flushed); diff != "" {
		t.Fatalf("unexpected TLB flushes (-want +got):\n%s", diff)
	}
}

func TestTranslate(t *testing.T) {
	pdt := newTestPDT(t, 16)

	rwFrame := allocMapped(t, pdt, mm.UText, FlagRW|FlagUserAccessible)
	allocMapped(t, pdt, mm.UText+mm.PageSize, FlagUserAccessible|FlagCopyOnWrite)
	allocMapped(t, pdt, mm.UText+2*mm.PageSize, FlagRW)

	specs := []struct {
		descr   string
		va      uintptr
		write   bool
		user    bool
		expCode uint32
		expOK   bool
	}{
		{"user read rw page", mm.UText + 4, false, true, 0, true},
		{"user write rw page", mm.UText + 4, true, true, 0, true},
		{"user write cow page", mm.UText + mm.PageSize, true, true, FaultPresent | FaultWrite | FaultUser, false},
		{"user read cow page", mm.UText + mm.PageSize, false, true, 0, true},
		{"user read kernel page", mm.UText + 2*mm.PageSize, false, true, FaultPresent | FaultUser, false},
		{"kernel write kernel page", mm.UText + 2*mm.PageSize, true, false, 0, true},
		{"user read unmapped page", mm.UText + 3*mm.PageSize, false, true, FaultUser, false},
		{"user write missing table", 0x10000000, true, true, FaultWrite | FaultUser, false},
		{"kernel write cow page", mm.UText + mm.PageSize, true, false, FaultPresent | FaultWrite, false},
	}

	for _, spec := range specs {
		pa, fault := pdt.Translate(spec.va, spec.write, spec.user)
		if spec.expOK {
			if fault != nil {
				t.Errorf("[%s] unexpected fault: %v", spec.descr, fault)
			}
			continue
		}
		if fault == nil {
			t.Errorf("[%s] expected a fault; got physical address %x", spec.descr, pa)
			continue
		}
		if diff := cmp.Diff(Fault{Addr: spec.va, Code: spec.expCode}, *fault); diff != "" {
			t.Errorf("[%s] unexpected fault (-want +got):\n%s", spec.descr, diff)
		}
	}

	if pa, _ := pdt.Translate(mm.UText+4, false, true); pa != rwFrame.Address()+4 {
		t.Errorf("expected physical address %x; got %x", rwFrame.Address()+4, pa)
	}
}

func TestSelfMap(t *testing.T) {
	pdt := newTestPDT(t, 16)

	allocMapped(t, pdt, mm.UText, FlagRW|FlagUserAccessible)
	allocMapped(t, pdt, mm.UText+mm.PageSize, FlagUserAccessible|FlagCopyOnWrite)

	t.Run("page table entries", func(t *testing.T) {
		flags, err := pdt.EntryFor(mm.UText + 0x10)
		if err != nil {
			t.Fatal(err)
		}
		if exp := FlagPresent | FlagRW | FlagUserAccessible; flags != exp {
			t.Errorf("expected flags %x; got %x", exp, flags)
		}

		flags, _ = pdt.EntryFor(mm.UText + mm.PageSize)
		if !flags.Has(FlagCopyOnWrite) || flags.Has(FlagRW) {
			t.Errorf("expected a COW read-only entry; got %x", flags)
		}

		// absent page inside an existing table reads as zero
		if flags, err = pdt.EntryFor(mm.UText + 2*mm.PageSize); err != nil || flags != 0 {
			t.Errorf("expected empty entry; got %x, %v", flags, err)
		}
	})

	t.Run("directory entries", func(t *testing.T) {
		flags, err := pdt.DirEntryFor(mm.UText)
		if err != nil {
			t.Fatal(err)
		}
		if !flags.Has(FlagPresent) {
			t.Errorf("expected directory entry for UText to be present; got %x", flags)
		}

		if flags, _ = pdt.DirEntryFor(0x10000000); flags.Has(FlagPresent) {
			t.Errorf("expected directory entry to be absent; got %x", flags)
		}

		// The self-map entry itself is read-only for users.
		flags, _ = pdt.DirEntryFor(mm.UVPT)
		if exp := FlagPresent | FlagUserAccessible; flags != exp {
			t.Errorf("expected self-map entry flags %x; got %x", exp, flags)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := pdt.EntryFor(0x10000000); err != ErrInvalidMapping {
			t.Errorf("expected ErrInvalidMapping for address without page table; got %v", err)
		}
		if _, err := pdt.EntryFor(mm.ULim); err != ErrOutOfRange {
			t.Errorf("expected ErrOutOfRange; got %v", err)
		}
		if _, err := pdt.DirEntryFor(mm.KernBase); err != ErrOutOfRange {
			t.Errorf("expected ErrOutOfRange; got %v", err)
		}
	})

	t.Run("self-map is not writable from user mode", func(t *testing.T) {
		if _, fault := pdt.Translate(mm.UVPT, true, true); fault == nil {
			t.Error("expected user write to UVPT to fault")
		}
	})
}

func TestUserMemCheck(t *testing.T) {
	pdt := newTestPDT(t, 16)

	allocMapped(t, pdt, mm.UXStackBase, FlagRW|FlagUserAccessible)
	allocMapped(t, pdt, mm.UText, FlagUserAccessible)

	specs := []struct {
		descr   string
		va      uintptr
		size    uintptr
		perm    PageTableEntryFlag
		expBad  uintptr
		expFail bool
	}{
		{"writable range", mm.UXStackTop - 56, 56, FlagUserAccessible | FlagRW, 0, false},
		{"read-only page with write perm", mm.UText + 8, 4, FlagUserAccessible | FlagRW, mm.UText + 8, true},
		{"read-only page with read perm", mm.UText + 8, 4, FlagUserAccessible, 0, false},
		{"range below exception stack", mm.UXStackBase - 8, 16, FlagUserAccessible | FlagRW, mm.UXStackBase - 8, true},
		{"range spilling into next page", mm.UText + mm.PageSize - 4, 8, FlagUserAccessible, mm.UText + mm.PageSize, true},
		{"kernel address", mm.ULim, 4, FlagUserAccessible, mm.ULim, true},
	}

	for _, spec := range specs {
		bad, err := pdt.UserMemCheck(spec.va, spec.size, spec.perm)
		if spec.expFail {
			if err != ErrUserMemory {
				t.Errorf("[%s] expected ErrUserMemory; got %v", spec.descr, err)
			}
			if bad != spec.expBad {
				t.Errorf("[%s] expected bad address %x; got %x", spec.descr, spec.expBad, bad)
			}
			continue
		}
		if err != nil {
			t.Errorf("[%s] unexpected error %v at %x", spec.descr, err, bad)
		}
	}
}

func TestCopyUser(t *testing.T) {
	pdt := newTestPDT(t, 16)

	allocMapped(t, pdt, mm.UText, FlagRW|FlagUserAccessible)
	allocMapped(t, pdt, mm.UText+mm.PageSize, FlagUserAccessible)

	data := bytes.Repeat([]byte("cow!"), 8)
	va := mm.UText + mm.PageSize - 16
	if err := pdt.CopyToUser(va, data); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(data))
	if err := pdt.CopyFromUser(got, va); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, got) {
		t.Fatalf("expected to read back %q; got %q", data, got)
	}

	if err := pdt.CopyToUser(mm.UText+2*mm.PageSize-4, data); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}
}

func TestFree(t *testing.T) {
	pdt := newTestPDT(t, 16)
	alloc := pdt.Allocator()

	// the directory frame is the only allocation so far
	expFree := alloc.FreeCount() + 1

	shared := allocMapped(t, pdt, mm.UText, FlagRW|FlagUserAccessible)
	allocMapped(t, pdt, mm.UStackTop-mm.PageSize, FlagRW|FlagUserAccessible)
	alloc.IncRef(shared)

	var visited []mm.Page
	pdt.VisitUserPages(func(page mm.Page, _ mm.Frame, _ PageTableEntryFlag) bool {
		visited = append(visited, page)
		return true
	})
	if diff := cmp.Diff([]mm.Page{mm.PageFromAddress(mm.UText), mm.PageFromAddress(mm.UStackTop - mm.PageSize)}, visited); diff != "" {
		t.Fatalf("unexpected visited pages (-want +got):\n%s", diff)
	}

	pdt.Free()

	if got := alloc.RefCount(shared); got != 1 {
		t.Fatalf("expected externally referenced frame to survive; ref count %d", got)
	}
	if got := alloc.FreeCount(); got != expFree-1 {
		t.Fatalf("expected %d free frames; got %d", expFree-1, got)
	}
}
