// Package kfmt implements the kernel console printer. All kernel diagnostics
// go through Printf so that output produced before a console is attached can
// be retained and replayed later.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before
	// an output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it, preceded by a notice
// if the buffer overflowed.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w == nil {
		return
	}

	if lost := earlyPrintBuffer.takeLost(); lost != 0 {
		Fprintf(w, "[kfmt] %d bytes of early output lost\n", lost)
	}
	_, _ = io.Copy(w, &earlyPrintBuffer)
}

// GetOutputSink returns the default target for calls to Printf.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf formats according to a format specifier and writes to the active
// output sink. It supports the same verbs as fmt.Printf.
func Printf(format string, args ...interface{}) {
	Fprintf(GetOutputSink(), format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
