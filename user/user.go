// Package user contains the programs the kernel can be booted with. Each
// program is a set of user text functions and the memory image they run
// in; everything they do goes through the system call interface.
package user

import (
	"sort"

	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/vmm"
	"github.com/tc250/jos07/machine"
	"github.com/tc250/jos07/ulib"
)

// Memory layout shared by all programs.
const (
	// RodataVA holds a read-only page with the program name.
	RodataVA = mm.UText

	// DataVA holds a page of initialized writable data.
	DataVA = mm.UText + 0x2000

	// Entry is the address of the first instruction.
	Entry = uint32(mm.UText + 0x20)
)

const (
	permRW = vmm.FlagPresent | vmm.FlagUserAccessible | vmm.FlagRW
	permRO = vmm.FlagPresent | vmm.FlagUserAccessible
)

var programs = map[string]ulib.Text{
	"hello":           hello,
	"forktree":        forktree,
	"cowwrite":        cowwrite,
	"faultalloc":      faultalloc,
	"faultdie":        faultdie,
	"faultnostack":    faultnostack,
	"faultbadhandler": faultbadhandler,
	"faultread":       faultread,
	"faultwrite":      faultwrite,
	"badvector":       badvector,
	"breakpoint":      breakpoint,
	"syscallargs":     syscallargs,
	"spin":            spin,
	"yield":           yieldProg,
	"sfork":           sforkProg,
}

// Names returns the names of all programs in lexical order.
func Names() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the image of the named program.
func Lookup(name string) (machine.Image, bool) {
	main, ok := programs[name]
	if !ok {
		return machine.Image{}, false
	}

	return machine.Image{
		Name:  name,
		Entry: Entry,
		Segments: []machine.Segment{
			{Addr: RodataVA, Data: append([]byte(name), 0), Size: mm.PageSize},
			{Addr: DataVA, Size: mm.PageSize, Writable: true},
		},
		Text: map[uint32]ulib.Text{Entry: main},
	}, true
}

// readString reads a NUL terminated string of at most max bytes at va.
func readString(u ulib.Context, va uintptr, max int) string {
	var (
		out []byte
		b   [1]byte
	)
	for i := 0; i < max; i++ {
		u.ReadMem(va+uintptr(i), b[:])
		if b[0] == 0 {
			break
		}
		out = append(out, b[0])
	}
	return string(out)
}

// writeString stores s followed by a NUL byte at va.
func writeString(u ulib.Context, va uintptr, s string) {
	u.WriteMem(va, append([]byte(s), 0))
}
