package sched

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/env"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/pmm"
)

func newTestScheduler(t *testing.T, envCount int) (*Scheduler, []*env.Env) {
	t.Helper()

	arena, err := pmm.NewArena(64 * mm.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = arena.Close() })

	table := env.NewTable(pmm.NewAllocator(arena, 1), 8)

	var envs []*env.Env
	for i := 0; i < envCount; i++ {
		e, err := table.Alloc(0)
		if err != nil {
			t.Fatal(err)
		}
		envs = append(envs, e)
	}

	return New(table), envs
}

func TestYield(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	s, envs := newTestScheduler(t, 4)

	var ran *env.Env
	s.runFn = func(e *env.Env) { ran = e }

	specs := []struct {
		descr  string
		setup  func()
		expEnv *env.Env
	}{
		{
			"no current env",
			func() { s.envs.SetCurrent(nil) },
			envs[0],
		},
		{
			"next after current",
			func() { s.envs.SetCurrent(envs[1]) },
			envs[2],
		},
		{
			"skip non-runnable",
			func() {
				s.envs.SetCurrent(envs[1])
				envs[2].Status = abi.EnvNotRunnable
			},
			envs[3],
		},
		{
			"wrap around",
			func() { s.envs.SetCurrent(envs[3]) },
			envs[0],
		},
		{
			"current env last",
			func() {
				for _, e := range envs {
					e.Status = abi.EnvNotRunnable
				}
				envs[1].Status = abi.EnvRunnable
				s.envs.SetCurrent(envs[1])
			},
			envs[1],
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			ran = nil
			spec.setup()
			s.Yield()

			if ran != spec.expEnv {
				t.Fatalf("expected env 0x%x to run", spec.expEnv.ID)
			}
		})
	}
}

func TestYieldIdle(t *testing.T) {
	defer cpu.Reset()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	s, envs := newTestScheduler(t, 2)
	s.runFn = func(e *env.Env) { t.Fatalf("unexpected run of env 0x%x", e.ID) }
	for _, e := range envs {
		e.Status = abi.EnvNotRunnable
	}

	t.Run("idle hook", func(t *testing.T) {
		cpu.Reset()
		idleCalled := false
		s.Idle = func() { idleCalled = true }
		s.Yield()

		if !idleCalled {
			t.Fatal("expected idle hook to be invoked")
		}
		if !strings.Contains(buf.String(), "idle hook returned") || !cpu.Halted() {
			t.Error("expected a returning idle hook to panic the kernel")
		}
	})

	t.Run("default", func(t *testing.T) {
		cpu.Reset()
		buf.Reset()
		s.Idle = nil
		s.Yield()

		if !strings.Contains(buf.String(), "No runnable environments in the system!") {
			t.Errorf("unexpected output:\n%s", buf.String())
		}
		if !cpu.Halted() {
			t.Error("expected the CPU to halt")
		}
	})
}
