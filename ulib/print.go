package ulib

import (
	"fmt"

	"github.com/tc250/jos07/kernel/abi"
)

// printBufSize bounds the bytes staged on the stack for a single cputs.
const printBufSize = 256

// Cputs prints s. The text is staged on the user stack below the stack
// pointer and printed with SysCputs.
func Cputs(u Context, s string) {
	for len(s) > 0 {
		chunk := s
		if len(chunk) > printBufSize {
			chunk = chunk[:printBufSize]
		}
		s = s[len(chunk):]

		buf := (uintptr(u.Regs().ESP) - printBufSize) &^ 3
		u.WriteMem(buf, []byte(chunk))
		SysCputs(u, buf, len(chunk))
	}
}

// Printf formats according to a format specifier and prints the result.
func Printf(u Context, format string, args ...interface{}) {
	Cputs(u, fmt.Sprintf(format, args...))
}

// Exit destroys the calling environment. It does not return.
func Exit(u Context) {
	_ = SysEnvDestroy(u, 0)
}

// Panic prints a message and destroys the calling environment. It does not
// return.
func Panic(u Context, format string, args ...interface{}) {
	Printf(u, "[%08x] user panic: %s\n", uint32(SysGetenvid(u)), fmt.Sprintf(format, args...))
	Exit(u)
}

// Breakpoint traps into the kernel monitor.
func Breakpoint(u Context) {
	u.Int(uint8(3))
}

// ThisEnv returns the id of the calling environment.
func ThisEnv(u Context) abi.EnvID {
	return SysGetenvid(u)
}
