package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/machine"
	"github.com/tc250/jos07/user"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	config       string
	timerQuantum int
	memoryPages  int
	tagOutput    bool
	stats        bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot the kernel with one or more user programs"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <program>... - spawn the programs and run until no environment is left.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.config, "config", "", "TOML machine configuration file")
	f.IntVar(&r.timerQuantum, "timer", -1, "user instructions between timer interrupts; 0 disables the timer")
	f.IntVar(&r.memoryPages, "memory", 0, "number of physical pages")
	f.BoolVar(&r.tagOutput, "tag", false, "prefix console output with the environment id")
	f.BoolVar(&r.stats, "stats", false, "print machine statistics on exit")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg := machine.DefaultConfig()
	if r.config != "" {
		var err error
		if cfg, err = machine.LoadConfig(r.config); err != nil {
			return fatalf("loading %s: %v", r.config, err)
		}
	}
	if r.timerQuantum >= 0 {
		cfg.TimerQuantum = r.timerQuantum
	}
	if r.memoryPages != 0 {
		cfg.MemoryPages = r.memoryPages
	}
	cfg.TagOutput = cfg.TagOutput || r.tagOutput
	cfg.Output = os.Stdout

	logrus.WithFields(logrus.Fields{
		"memory_pages":  cfg.MemoryPages,
		"envs":          cfg.Envs,
		"timer_quantum": cfg.TimerQuantum,
	}).Debug("configuring machine")

	var err error
	if cfg.Monitor, err = openInput(cfg.MonitorInput); err != nil {
		return fatalf("monitor input: %v", err)
	}
	defer closeInput(cfg.Monitor)
	if cfg.Console, err = openInput(cfg.ConsoleInput); err != nil {
		return fatalf("console input: %v", err)
	}
	defer closeInput(cfg.Console)

	m, err := machine.New(cfg)
	if err != nil {
		return fatalf("%v", err)
	}
	defer m.Close()

	for _, name := range f.Args() {
		img, ok := user.Lookup(name)
		if !ok {
			return fatalf("unknown program %q", name)
		}
		id, err := m.Spawn(img)
		if err != nil {
			return fatalf("spawning %s: %v", name, err)
		}
		logrus.WithField("program", name).Debugf("spawned environment %08x", uint32(id))
	}

	reason, err := m.Run(ctx)
	logrus.WithField("reason", reason).Debug("machine stopped")
	if r.stats {
		printStats(os.Stderr, m.Stats())
	}
	if err != nil {
		logrus.WithError(err).WithField("reason", reason).Error("run failed")
		return subcommands.ExitFailure
	}
	if reason == machine.StopHalted {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// openInput opens the named input file; "-" is standard input and the
// empty name leaves the input detached.
func openInput(name string) (io.Reader, error) {
	switch name {
	case "":
		return nil, nil
	case "-":
		return os.Stdin, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// closeInput closes an input returned by openInput. Standard input stays
// open.
func closeInput(r io.Reader) {
	if c, ok := r.(io.Closer); ok && r != os.Stdin {
		if err := c.Close(); err != nil {
			logrus.WithError(err).Warn("closing input")
		}
	}
}

func printStats(w io.Writer, s machine.Stats) {
	fmt.Fprintf(w, "environments created: %d\n", s.EnvsCreated)
	fmt.Fprintf(w, "page faults:          %d\n", s.PageFaults)
	fmt.Fprintf(w, "tlb flushes:          %d\n", s.TLBFlushes)
	fmt.Fprintf(w, "frames in use:        %d/%d\n", s.FramesTotal-s.FramesFree, s.FramesTotal)

	vectors := make([]int, 0, len(s.Traps))
	for vector := range s.Traps {
		vectors = append(vectors, int(vector))
	}
	sort.Ints(vectors)
	for _, v := range vectors {
		fmt.Fprintf(w, "trap %-16s %d\n", gate.TrapName(uint32(v))+":", s.Traps[gate.InterruptNumber(v)])
	}

	nums := make([]int, 0, len(s.Syscalls))
	for num := range s.Syscalls {
		nums = append(nums, int(num))
	}
	sort.Ints(nums)
	for _, n := range nums {
		fmt.Fprintf(w, "syscall %-13s %d\n", abi.Syscall(n).String()+":", s.Syscalls[abi.Syscall(n)])
	}
}
