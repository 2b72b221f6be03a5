// Package pmm manages physical memory: the host-backed arena that plays the
// role of RAM and a reference counted frame allocator on top of it.
package pmm

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/mm"
)

var (
	errArenaSize = &kernel.Error{Module: "pmm", Message: "arena size must be a non-zero multiple of the page size"}
	errArenaMap  = &kernel.Error{Module: "pmm", Message: "unable to map physical memory arena"}
)

// Arena is a contiguous block of host memory that backs the physical address
// space. Physical address pa is stored at host address Base()+pa.
type Arena struct {
	mem []byte
}

// NewArena reserves size bytes of anonymous host memory.
func NewArena(size uintptr) (*Arena, error) {
	if size == 0 || size&(mm.PageSize-1) != 0 {
		return nil, errArenaSize
	}

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, &kernel.Error{Module: errArenaMap.Module, Message: errArenaMap.Message + ": " + err.Error()}
	}

	return &Arena{mem: mem}, nil
}

// Base returns the host address of physical address 0.
func (a *Arena) Base() uintptr {
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

// Size returns the arena size in bytes.
func (a *Arena) Size() uintptr {
	return uintptr(len(a.mem))
}

// Frames returns the number of physical frames in the arena.
func (a *Arena) Frames() int {
	return len(a.mem) >> mm.PageShift
}

// HostAddr returns the host address for physical address pa.
func (a *Arena) HostAddr(pa uintptr) uintptr {
	if pa >= uintptr(len(a.mem)) {
		panic(&kernel.Error{Module: "pmm", Message: "physical address outside of arena"})
	}
	return a.Base() + pa
}

// Close releases the host memory. The arena must not be used afterwards.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}
