package pmm

import (
	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/mm"
)

var (
	// ErrOutOfMemory is returned when no free frames are left.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

	errRefUnderflow = &kernel.Error{Module: "pmm", Message: "reference count underflow"}
	errBadFrame     = &kernel.Error{Module: "pmm", Message: "frame outside of managed memory"}
)

// Allocator hands out physical frames from an Arena. Each frame carries a
// reference count that tracks the number of page table entries pointing to
// it; a frame returns to the free list when its count drops to zero.
//
// Frame 0 is never handed out so that a zero frame number in an entry can
// never alias live memory.
type Allocator struct {
	arena *Arena

	refCount []uint32

	// freeList is used as a stack; frames are popped from the end.
	freeList []mm.Frame
}

// NewAllocator creates an allocator for all frames of arena except the first
// reserved ones.
func NewAllocator(arena *Arena, reserved int) *Allocator {
	if reserved < 1 {
		reserved = 1
	}

	frameCount := arena.Frames()
	alloc := &Allocator{
		arena:    arena,
		refCount: make([]uint32, frameCount),
		freeList: make([]mm.Frame, 0, frameCount),
	}

	// Push frames in reverse order so low frames are allocated first.
	for f := frameCount - 1; f >= reserved; f-- {
		alloc.freeList = append(alloc.freeList, mm.Frame(f))
	}

	return alloc
}

// Arena returns the arena backing this allocator.
func (alloc *Allocator) Arena() *Arena {
	return alloc.arena
}

// AllocFrame removes a frame from the free list. If zero is set, the frame
// contents are cleared. The returned frame has a reference count of zero;
// callers that install it in a page table must call IncRef.
func (alloc *Allocator) AllocFrame(zero bool) (mm.Frame, *kernel.Error) {
	last := len(alloc.freeList) - 1
	if last < 0 {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	frame := alloc.freeList[last]
	alloc.freeList = alloc.freeList[:last]

	if zero {
		kernel.Memset(alloc.HostAddr(frame), 0, mm.PageSize)
	}

	return frame, nil
}

// IncRef increments the reference count of frame.
func (alloc *Allocator) IncRef(frame mm.Frame) {
	alloc.checkFrame(frame)
	alloc.refCount[frame]++
}

// DecRef decrements the reference count of frame and returns it to the free
// list once no references are left.
func (alloc *Allocator) DecRef(frame mm.Frame) {
	alloc.checkFrame(frame)
	if alloc.refCount[frame] == 0 {
		kfmt.Panic(errRefUnderflow)
		return
	}

	alloc.refCount[frame]--
	if alloc.refCount[frame] == 0 {
		alloc.freeList = append(alloc.freeList, frame)
	}
}

// FreeFrame returns an unreferenced frame obtained by AllocFrame to the free
// list.
func (alloc *Allocator) FreeFrame(frame mm.Frame) {
	alloc.checkFrame(frame)
	if alloc.refCount[frame] != 0 {
		kfmt.Panic(&kernel.Error{Module: "pmm", Message: "freeing a referenced frame"})
		return
	}
	alloc.freeList = append(alloc.freeList, frame)
}

// RefCount returns the reference count of frame.
func (alloc *Allocator) RefCount(frame mm.Frame) int {
	alloc.checkFrame(frame)
	return int(alloc.refCount[frame])
}

// FreeCount returns the number of frames on the free list.
func (alloc *Allocator) FreeCount() int {
	return len(alloc.freeList)
}

// HostAddr returns the host address where the contents of frame live.
func (alloc *Allocator) HostAddr(frame mm.Frame) uintptr {
	alloc.checkFrame(frame)
	return alloc.arena.HostAddr(frame.Address())
}

func (alloc *Allocator) checkFrame(frame mm.Frame) {
	if !frame.Valid() || int(frame) >= len(alloc.refCount) {
		panic(errBadFrame)
	}
}
