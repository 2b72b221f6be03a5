package kfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	const msg = "[00000000] new env 00001000\n"

	specs := []struct {
		descr   string
		start   int
		writes  int
		expLost int
	}{
		{"empty buffer", 0, 1, 0},
		{"wraps around", ringBufferSize - 5, 1, 0},
		{"fills exactly", 0, ringBufferSize / len(msg), 0},
		{"overflows", 7, ringBufferSize/len(msg) + 2, (ringBufferSize/len(msg)+2)*len(msg) - ringBufferSize},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			rb := ringBuffer{start: spec.start}

			var all string
			for i := 0; i < spec.writes; i++ {
				n, err := rb.Write([]byte(msg))
				if err != nil || n != len(msg) {
					t.Fatalf("expected to write %d bytes; wrote %d (%v)", len(msg), n, err)
				}
				all += msg
			}

			exp := all
			if len(exp) > ringBufferSize {
				exp = exp[len(exp)-ringBufferSize:]
			}

			if got := readByteByByte(&rb); got != exp {
				t.Fatalf("expected to read %d bytes ending in %q; got %d bytes", len(exp), exp[len(exp)-8:], len(got))
			}
			if got := rb.takeLost(); got != spec.expLost {
				t.Fatalf("expected %d lost bytes; got %d", spec.expLost, got)
			}
			if rb.takeLost() != 0 {
				t.Fatal("expected takeLost to reset the counter")
			}
		})
	}
}

func TestRingBufferCopy(t *testing.T) {
	rb := ringBuffer{start: ringBufferSize - 2}
	exp := "hello, world\n"
	_, _ = rb.Write([]byte(exp))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, &rb); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != exp {
		t.Fatalf("expected to read %q; got %q", exp, got)
	}

	if n, err := rb.Read(make([]byte, 4)); n != 0 || err != io.EOF {
		t.Fatalf("expected a drained buffer to return io.EOF; got %d, %v", n, err)
	}
}

func readByteByByte(r io.Reader) string {
	var (
		sb strings.Builder
		b  = make([]byte, 1)
	)
	for {
		if _, err := r.Read(b); err == io.EOF {
			break
		}
		sb.Write(b)
	}
	return sb.String()
}
