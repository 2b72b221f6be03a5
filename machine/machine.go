// Package machine assembles the kernel packages into a simulated single-core
// computer: it owns physical memory, loads user images, delivers traps
// through the loaded interrupt descriptor table and hands the processor from
// one environment to the next.
package machine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/cpu"
	"github.com/tc250/jos07/kernel/env"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/pmm"
	"github.com/tc250/jos07/kernel/mm/vmm"
	"github.com/tc250/jos07/kernel/monitor"
	"github.com/tc250/jos07/kernel/sched"
	"github.com/tc250/jos07/kernel/syscall"
	"github.com/tc250/jos07/kernel/trap"
)

var (
	// ErrBusy is returned by New while another machine is open. The
	// processor and the kernel packages hold global state, so only one
	// machine can exist at a time.
	ErrBusy = &kernel.Error{Module: "machine", Message: "another machine is already open"}

	// ErrHalted is returned by Run once the processor has halted.
	ErrHalted = &kernel.Error{Module: "machine", Message: "processor halted"}

	// ErrClosed is returned when using a closed machine.
	ErrClosed = &kernel.Error{Module: "machine", Message: "machine closed"}

	errBadImage   = &kernel.Error{Module: "machine", Message: "image segment outside of user memory"}
	errUnknownEnv = &kernel.Error{Module: "machine", Message: "transfer to an environment without user context"}

	activeMu sync.Mutex
	active   *Machine
)

// StopReason tells why Run returned.
type StopReason int

const (
	// StopIdle means no environment was left to run.
	StopIdle StopReason = iota

	// StopHalted means the processor halted, either from the monitor or
	// because the kernel panicked.
	StopHalted

	// StopCanceled means the context passed to Run was canceled.
	StopCanceled
)

func (r StopReason) String() string {
	switch r {
	case StopIdle:
		return "idle"
	case StopHalted:
		return "halted"
	case StopCanceled:
		return "canceled"
	}
	return "unknown"
}

// Stats counts the events observed by the machine.
type Stats struct {
	Traps       map[gate.InterruptNumber]uint64
	Syscalls    map[abi.Syscall]uint64
	PageFaults  uint64
	EnvsCreated uint64
	TLBFlushes  uint64

	FramesTotal int
	FramesFree  int
}

// EnvInfo is a snapshot of an environment slot.
type EnvInfo struct {
	ID       abi.EnvID
	ParentID abi.EnvID
	Status   abi.EnvStatus
	Runs     uint32

	// Pages is the number of pages mapped below UTop.
	Pages int
}

// Machine is a simulated computer running the kernel.
type Machine struct {
	cfg Config

	arena *pmm.Arena
	alloc *pmm.Allocator
	envs  *env.Table
	sched *sched.Scheduler
	sys   *syscall.Dispatcher

	// users maps live environments to their user context. running holds
	// the context whose goroutine owns the processor.
	users   map[abi.EnvID]*User
	running *User

	// done receives the stop reason from the goroutine that owned the
	// processor when the machine stopped.
	done     chan StopReason
	canceled atomic.Bool

	stats  Stats
	closed bool
}

// transferTo unwinds kernel code that switched to environment e.
type transferTo struct {
	e *env.Env
}

// stopSignal unwinds kernel code that stopped the processor.
type stopSignal struct {
	reason StopReason
}

// outcome is the result of a kernel entry: either a transfer to an
// environment or a stop.
type outcome struct {
	to   *env.Env
	stop StopReason
}

// New builds a machine with empty memory and no environments.
func New(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		return nil, ErrBusy
	}

	arena, err := pmm.NewArena(cfg.memorySize())
	if err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:   cfg,
		arena: arena,
		alloc: pmm.NewAllocator(arena, 1),
		users: make(map[abi.EnvID]*User),
		done:  make(chan StopReason, 1),
		stats: Stats{
			Traps:    make(map[gate.InterruptNumber]uint64),
			Syscalls: make(map[abi.Syscall]uint64),
		},
	}

	m.envs = env.NewTable(m.alloc, cfg.Envs)
	m.envs.RunHook = func(e *env.Env) { panic(transferTo{e}) }
	m.envs.OnFree = m.onFree
	m.envs.OnFork = m.onFork

	m.sched = sched.New(m.envs)
	if !cfg.MonitorOnIdle {
		m.sched.Idle = m.idle
	}

	m.sys = syscall.New(m.envs, m.sched.Yield)
	m.sys.Console = cfg.Console
	m.sys.TagOutput = cfg.TagOutput

	output := cfg.Output
	if output == nil {
		output = io.Discard
	}
	kfmt.SetOutputSink(output)
	monitor.SetInput(cfg.Monitor)

	cpu.Reset()
	cpu.SetHaltHook(func() { panic(stopSignal{StopHalted}) })

	trap.Init(trap.Services{
		Envs:    m.envs,
		Yield:   m.sched.Yield,
		Syscall: m.sys.Dispatch,
		Monitor: monitor.Run,
	})

	active = m
	return m, nil
}

// Close stops every environment goroutine and releases physical memory.
func (m *Machine) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	for id, u := range m.users {
		delete(m.users, id)
		u.dead = true
		if u.started {
			close(u.wake)
		}
	}
	m.running = nil

	cpu.SetHaltHook(nil)

	activeMu.Lock()
	active = nil
	activeMu.Unlock()

	return m.arena.Close()
}

// Spawn creates a runnable environment from img, the way the kernel loads
// the binaries linked into it at boot.
func (m *Machine) Spawn(img Image) (abi.EnvID, error) {
	if m.closed {
		return 0, ErrClosed
	}

	e, kerr := m.envs.Alloc(0)
	if kerr != nil {
		return 0, kerr
	}

	if err := m.load(e, img); err != nil {
		m.envs.Free(e)
		return 0, err
	}

	u := newUser(m, e)
	for addr, text := range img.Text {
		u.text[addr] = text
	}
	m.users[e.ID] = u
	m.stats.EnvsCreated++

	return e.ID, nil
}

// load maps the segments of img and one page of user stack into the
// address space of e and points e at the image entry.
func (m *Machine) load(e *env.Env, img Image) error {
	for _, seg := range img.Segments {
		size := seg.Size
		if size < uintptr(len(seg.Data)) {
			size = uintptr(len(seg.Data))
		}
		if seg.Addr+size < seg.Addr || seg.Addr+size > mm.UTop {
			return errBadImage
		}

		flags := vmm.FlagPresent | vmm.FlagUserAccessible
		if seg.Writable {
			flags |= vmm.FlagRW
		}

		end := mm.RoundUp(seg.Addr+size, mm.PageSize)
		for va := mm.RoundDown(seg.Addr, mm.PageSize); va < end; va += mm.PageSize {
			if err := m.mapFresh(e.Pgdir, va, flags); err != nil {
				return err
			}
		}

		if len(seg.Data) != 0 {
			if err := e.Pgdir.CopyToUser(seg.Addr, seg.Data); err != nil {
				return err
			}
		}
	}

	if err := m.mapFresh(e.Pgdir, mm.UStackTop-mm.PageSize, vmm.FlagPresent|vmm.FlagUserAccessible|vmm.FlagRW); err != nil {
		return err
	}

	e.Tf.EIP = img.Entry
	return nil
}

// mapFresh maps a zeroed frame at va unless a page is already mapped there.
func (m *Machine) mapFresh(pgdir *vmm.PageDirectory, va uintptr, flags vmm.PageTableEntryFlag) *kernel.Error {
	if _, _, err := pgdir.Lookup(va); err == nil {
		return nil
	}

	frame, err := m.alloc.AllocFrame(true)
	if err != nil {
		return err
	}

	if err = pgdir.Map(mm.PageFromAddress(va), frame, flags); err != nil {
		m.alloc.FreeFrame(frame)
		return err
	}
	return nil
}

// Run schedules environments until none is runnable, the processor halts
// or ctx is canceled. A machine stopped because it was idle or canceled
// may be run again, for instance after spawning more environments.
func (m *Machine) Run(ctx context.Context) (StopReason, error) {
	switch {
	case m.closed:
		return StopHalted, ErrClosed
	case cpu.Halted():
		return StopHalted, ErrHalted
	}

	m.canceled.Store(false)

	out := m.enterKernel(m.sched.Yield)
	if out.to == nil {
		return out.stop, nil
	}
	m.handoff(nil, out.to)

	select {
	case reason := <-m.done:
		return reason, nil
	case <-ctx.Done():
		m.canceled.Store(true)
		reason := <-m.done
		if reason == StopCanceled {
			return reason, ctx.Err()
		}
		return reason, nil
	}
}

// Env returns a snapshot of environment id.
func (m *Machine) Env(id abi.EnvID) (EnvInfo, bool) {
	idx := id.Index()
	if idx >= m.envs.Size() {
		return EnvInfo{}, false
	}

	e := m.envs.Slot(idx)
	if e.ID != id {
		return EnvInfo{}, false
	}
	return envInfo(e), true
}

// Envs returns a snapshot of every environment that is not free.
func (m *Machine) Envs() []EnvInfo {
	var out []EnvInfo
	for _, e := range m.envs.All() {
		out = append(out, envInfo(e))
	}
	return out
}

func envInfo(e *env.Env) EnvInfo {
	info := EnvInfo{ID: e.ID, ParentID: e.ParentID, Status: e.Status, Runs: e.Runs}
	if e.Pgdir != nil {
		e.Pgdir.VisitUserPages(func(mm.Page, mm.Frame, vmm.PageTableEntryFlag) bool {
			info.Pages++
			return true
		})
	}
	return info
}

// ReadUser copies memory of live environment id at va into buf without
// any permission checks.
func (m *Machine) ReadUser(id abi.EnvID, va uintptr, buf []byte) error {
	e, err := m.live(id)
	if err != nil {
		return err
	}

	if kerr := e.Pgdir.CopyFromUser(buf, va); kerr != nil {
		return kerr
	}
	return nil
}

// Mapping returns the frame and flags mapped at va of live environment id.
func (m *Machine) Mapping(id abi.EnvID, va uintptr) (mm.Frame, vmm.PageTableEntryFlag, error) {
	e, err := m.live(id)
	if err != nil {
		return mm.InvalidFrame, 0, err
	}

	frame, flags, kerr := e.Pgdir.Lookup(va)
	if kerr != nil {
		return mm.InvalidFrame, 0, kerr
	}
	return frame, flags, nil
}

// RefCount returns the number of mappings that reference frame.
func (m *Machine) RefCount(frame mm.Frame) int {
	return m.alloc.RefCount(frame)
}

func (m *Machine) live(id abi.EnvID) (*env.Env, error) {
	if _, ok := m.Env(id); !ok {
		return nil, env.ErrBadEnv
	}

	e := m.envs.Slot(id.Index())
	if e.Status == abi.EnvFree {
		return nil, env.ErrBadEnv
	}
	return e, nil
}

// Stats returns a copy of the event counters.
func (m *Machine) Stats() Stats {
	s := m.stats
	s.Traps = make(map[gate.InterruptNumber]uint64, len(m.stats.Traps))
	for k, v := range m.stats.Traps {
		s.Traps[k] = v
	}
	s.Syscalls = make(map[abi.Syscall]uint64, len(m.stats.Syscalls))
	for k, v := range m.stats.Syscalls {
		s.Syscalls[k] = v
	}

	s.TLBFlushes = cpu.TLBFlushes()
	s.FramesTotal = m.arena.Frames()
	s.FramesFree = m.alloc.FreeCount()
	return s
}

func (m *Machine) idle() {
	kfmt.Printf("No runnable environments in the system!\n")
	panic(stopSignal{StopIdle})
}

func (m *Machine) onFork(child, parent *env.Env) {
	c := newUser(m, child)
	if p := m.users[parent.ID]; p != nil {
		for addr, text := range p.text {
			c.text[addr] = text
		}
		c.handler = p.handler
		c.pc = p.pc
	}

	m.users[child.ID] = c
	m.stats.EnvsCreated++
}

func (m *Machine) onFree(e *env.Env) {
	u := m.users[e.ID]
	if u == nil {
		return
	}
	delete(m.users, e.ID)

	u.dead = true
	if u != m.running && u.started {
		close(u.wake)
	}
}
