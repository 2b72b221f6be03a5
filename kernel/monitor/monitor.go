// Package monitor implements the interactive kernel monitor entered on
// breakpoints and when no environment can run.
package monitor

import (
	"bufio"
	"io"
	"strings"

	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/mm"
)

const maxArgs = 16

type command struct {
	name string
	desc string

	// fn returns false to leave the monitor.
	fn func(args []string, tf *gate.Trapframe) bool
}

var (
	commands []command

	input *bufio.Reader

	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt
)

func init() {
	commands = []command{
		{"help", "Display this list of commands", cmdHelp},
		{"kerninfo", "Display information about the kernel", cmdKernInfo},
		{"tf", "Display the trap frame of the interrupted environment", cmdTrapframe},
		{"regs", "Display the general purpose registers of the interrupted environment", cmdRegs},
		{"continue", "Resume the interrupted environment", cmdContinue},
		{"halt", "Halt the processor", cmdHalt},
	}
}

// SetInput sets the console the monitor reads commands from. With no input
// attached, the monitor halts the processor as soon as it is entered.
func SetInput(r io.Reader) {
	if r == nil {
		input = nil
		return
	}
	input = bufio.NewReader(r)
}

// Run enters the monitor. tf is the frame of the interrupted environment
// and may be nil. Run returns when the continue command is issued; halt
// and end of input stop the processor.
func Run(tf *gate.Trapframe) {
	kfmt.Printf("Welcome to the JOS kernel monitor!\n")
	kfmt.Printf("Type 'help' for a list of commands.\n")

	if tf != nil {
		tf.DumpTo(kfmt.GetOutputSink())
	}

	for {
		kfmt.Printf("K> ")
		line, err := readLine()
		if err != nil {
			kfmt.Printf("\n")
			cpuHaltFn()
			return
		}

		if !runCmd(line, tf) {
			return
		}
	}
}

func readLine() (string, error) {
	if input == nil {
		return "", io.EOF
	}

	line, err := input.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// runCmd parses and executes a single command line. It returns false if
// the monitor should be left.
func runCmd(line string, tf *gate.Trapframe) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return true
	}
	if len(args) > maxArgs {
		kfmt.Printf("Too many arguments (max %d)\n", maxArgs)
		return true
	}

	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.fn(args, tf)
		}
	}

	kfmt.Printf("Unknown command '%s'\n", args[0])
	return true
}

func cmdHelp(_ []string, _ *gate.Trapframe) bool {
	for _, cmd := range commands {
		kfmt.Printf("%s - %s\n", cmd.name, cmd.desc)
	}
	return true
}

func cmdKernInfo(_ []string, _ *gate.Trapframe) bool {
	kfmt.Printf("Special kernel symbols:\n")
	kfmt.Printf("  KERNBASE   %08x\n", mm.KernBase)
	kfmt.Printf("  KSTACKTOP  %08x\n", mm.KStackTop)
	kfmt.Printf("  ULIM       %08x\n", mm.ULim)
	kfmt.Printf("  UVPT       %08x\n", mm.UVPT)
	kfmt.Printf("  UTOP       %08x\n", mm.UTop)
	kfmt.Printf("  UXSTACKTOP %08x\n", mm.UXStackTop)
	kfmt.Printf("  USTACKTOP  %08x\n", mm.UStackTop)
	kfmt.Printf("  UTEXT      %08x\n", mm.UText)
	return true
}

func cmdTrapframe(_ []string, tf *gate.Trapframe) bool {
	if tf == nil {
		kfmt.Printf("No trap frame\n")
		return true
	}
	tf.DumpTo(kfmt.GetOutputSink())
	return true
}

func cmdRegs(_ []string, tf *gate.Trapframe) bool {
	if tf == nil {
		kfmt.Printf("No trap frame\n")
		return true
	}
	tf.Regs.DumpTo(kfmt.GetOutputSink())
	kfmt.Printf("  eip  0x%08x\n", tf.EIP)
	return true
}

func cmdContinue(_ []string, tf *gate.Trapframe) bool {
	if tf == nil {
		kfmt.Printf("Nothing to continue\n")
		return true
	}
	return false
}

func cmdHalt(_ []string, _ *gate.Trapframe) bool {
	cpuHaltFn()
	return false
}
