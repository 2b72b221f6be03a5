package kfmt

import (
	"path"
	"runtime"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/cpu"
)

var (
	// the following functions are mocked by tests.
	cpuHaltFn = cpu.Halt
	callerFn  = runtime.Caller

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints the error e, if any, with the location of the kernel code
// that raised it and halts the CPU. Calls to Panic never return on a real
// processor; code following a call to Panic is unreachable.
func Panic(e interface{}) {
	Printf("\n-----------------------------------\n")
	if _, file, line, ok := callerFn(1); ok {
		Printf("kernel panic at %s:%d\n", shortPath(file), line)
	}
	if err := panicError(e); err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

func panicError(e interface{}) *kernel.Error {
	switch t := e.(type) {
	case *kernel.Error:
		return t
	case string:
		return &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		return &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	case nil:
		return nil
	}
	return errRuntimePanic
}

// shortPath keeps the package directory and file name of a source path.
func shortPath(file string) string {
	dir, name := path.Split(file)
	return path.Join(path.Base(dir), name)
}
