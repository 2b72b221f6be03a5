package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/machine"
)

// Vectors implements subcommands.Command for the "vectors" command.
type Vectors struct{}

// Name implements subcommands.Command.Name.
func (*Vectors) Name() string {
	return "vectors"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Vectors) Synopsis() string {
	return "print the interrupt descriptor table built at boot"
}

// Usage implements subcommands.Command.Usage.
func (*Vectors) Usage() string {
	return `vectors - print every bound vector with its gate attributes.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Vectors) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Vectors) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	// Building a machine loads the table.
	m, err := machine.New(machine.DefaultConfig())
	if err != nil {
		return fatalf("%v", err)
	}
	defer m.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "VECTOR\tNAME\tENTRY\tSEL\tDPL\tERRCODE\tDESCRIPTION\n")
	for _, t := range gate.Entries() {
		g := gate.Lookup(t.Vector)
		fmt.Fprintf(w, "%d\t%s\t%08x\t%04x\t%d\t%t\t%s\n",
			t.Vector, t.Name, g.Offset(), g.Selector(), g.DPL(), t.ErrorCode, gate.TrapName(uint32(t.Vector)))
	}
	if err = w.Flush(); err != nil {
		return fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}
