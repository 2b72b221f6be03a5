package kfmt

import (
	"bytes"
	"io"
)

// TagWriter copies console output to Sink and starts every line with the
// tag of the writer that produced it. Lines written under different tags
// never share a line of output: switching tags in the middle of a line
// terminates it first.
type TagWriter struct {
	Sink io.Writer

	tag     []byte
	midLine bool
}

// SetTag selects the tag for subsequent writes.
func (w *TagWriter) SetTag(tag string) error {
	if string(w.tag) == tag {
		return nil
	}

	if w.midLine {
		if _, err := w.Sink.Write([]byte{'\n'}); err != nil {
			return err
		}
		w.midLine = false
	}

	w.tag = []byte(tag)
	return nil
}

// Write implements io.Writer. The returned count covers bytes of p only;
// tags are not included.
func (w *TagWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.tag); err != nil {
				return written, err
			}
			w.midLine = true
		}

		line := p
		if idx := bytes.IndexByte(p, '\n'); idx >= 0 {
			line = p[:idx+1]
			w.midLine = false
		}

		n, err := w.Sink.Write(line)
		written += n
		if err != nil {
			return written, err
		}
		p = p[len(line):]
	}

	return written, nil
}
