package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/tc250/jos07/user"
)

// Programs implements subcommands.Command for the "programs" command.
type Programs struct{}

// Name implements subcommands.Command.Name.
func (*Programs) Name() string {
	return "programs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Programs) Synopsis() string {
	return "list the user programs that can be run"
}

// Usage implements subcommands.Command.Usage.
func (*Programs) Usage() string {
	return `programs - list the user programs that can be run.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Programs) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Programs) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	for _, name := range user.Names() {
		fmt.Println(name)
	}
	return subcommands.ExitSuccess
}
