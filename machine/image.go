package machine

import (
	"github.com/tc250/jos07/ulib"
)

// Segment is a range of user memory initialized from an image. Memory past
// Data up to Size is zero filled.
type Segment struct {
	Addr     uintptr
	Data     []byte
	Size     uintptr
	Writable bool
}

// Image is a user program: the memory it is loaded with, the address it
// starts at and the code placed at text addresses.
type Image struct {
	Name     string
	Entry    uint32
	Segments []Segment
	Text     map[uint32]ulib.Text
}
