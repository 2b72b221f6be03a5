// Package sched implements the round-robin environment scheduler.
package sched

import (
	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/env"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/monitor"
)

var errIdleReturned = &kernel.Error{Module: "sched", Message: "idle hook returned"}

// Scheduler picks the next environment to run.
type Scheduler struct {
	envs *env.Table

	// Idle is invoked when no environment is runnable. It must not
	// return. If nil, the scheduler prints a notice, enters the monitor
	// and then halts.
	Idle func()

	// runFn is mocked by tests.
	runFn func(e *env.Env)
}

// New returns a scheduler for the environments of envs.
func New(envs *env.Table) *Scheduler {
	return &Scheduler{envs: envs, runFn: envs.Run}
}

// Next returns the environment Yield would run or nil. The search starts
// at the slot after the current environment, wraps around and considers
// the current environment last.
func (s *Scheduler) Next() *env.Env {
	start := 0
	if cur := s.envs.Current(); cur != nil {
		start = cur.ID.Index() + 1
	}

	size := s.envs.Size()
	for i := 0; i < size; i++ {
		e := s.envs.Slot((start + i) % size)
		if e.Status == abi.EnvRunnable {
			return e
		}
	}

	return nil
}

// Yield runs the next runnable environment. It does not return.
func (s *Scheduler) Yield() {
	if e := s.Next(); e != nil {
		s.runFn(e)
		return
	}

	if s.Idle != nil {
		s.Idle()
		kfmt.Panic(errIdleReturned)
		return
	}

	kfmt.Printf("No runnable environments in the system!\n")
	monitor.Run(nil)
	cpu.Halt()
}
