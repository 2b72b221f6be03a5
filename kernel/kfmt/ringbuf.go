package kfmt

import "io"

// ringBufferSize is the capacity of the early output buffer. It must be a
// power of 2.
const ringBufferSize = 4096

// ringBuffer keeps the most recent ringBufferSize bytes written to it.
// Writes to a full buffer overwrite the oldest unread bytes and count them
// as lost.
type ringBuffer struct {
	buf   [ringBufferSize]byte
	start int
	size  int
	lost  int
}

// Write implements io.Writer. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buf[(rb.start+rb.size)&(ringBufferSize-1)] = b
		if rb.size < ringBufferSize {
			rb.size++
			continue
		}

		rb.start = (rb.start + 1) & (ringBufferSize - 1)
		rb.lost++
	}

	return len(p), nil
}

// Read implements io.Reader and returns io.EOF once the buffer is drained.
// A single call never reads past the end of the backing array.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.size == 0 {
		return 0, io.EOF
	}

	n := rb.size
	if tail := ringBufferSize - rb.start; n > tail {
		n = tail
	}
	if n > len(p) {
		n = len(p)
	}

	copy(p, rb.buf[rb.start:rb.start+n])
	rb.start = (rb.start + n) & (ringBufferSize - 1)
	rb.size -= n

	return n, nil
}

// takeLost returns the number of bytes lost since the last call.
func (rb *ringBuffer) takeLost() int {
	lost := rb.lost
	rb.lost = 0
	return lost
}
