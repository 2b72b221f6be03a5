// Package env manages the table of user environments: allocation, lookup,
// teardown and the transfer of control into an environment.
package env

import (
	"github.com/tc250/jos07/kernel"
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/gate"
	"github.com/tc250/jos07/kernel/kfmt"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/kernel/mm/pmm"
	"github.com/tc250/jos07/kernel/mm/vmm"
)

var (
	// ErrNoFreeEnv is returned when every slot of the table is in use.
	ErrNoFreeEnv = &kernel.Error{Module: "env", Message: "out of environments"}

	// ErrBadEnv is returned when an environment id does not refer to a
	// live environment or the caller may not operate on it.
	ErrBadEnv = &kernel.Error{Module: "env", Message: "bad environment"}

	errNoRunHook = &kernel.Error{Module: "env", Message: "no run hook installed"}
	errNoReturn  = &kernel.Error{Module: "env", Message: "returned from environment transfer"}
)

// Env describes a user environment.
type Env struct {
	ID       abi.EnvID
	ParentID abi.EnvID
	Status   abi.EnvStatus

	// Tf holds the saved registers of the environment while it is not
	// running.
	Tf gate.Trapframe

	// PgfaultUpcall is the user entry point for page faults; zero if the
	// environment has not registered one.
	PgfaultUpcall uint32

	Pgdir *vmm.PageDirectory

	// Runs counts the number of times the environment has been run.
	Runs uint32
}

// Table holds a fixed number of environment slots.
type Table struct {
	alloc *pmm.Allocator
	envs  []Env
	cur   *Env

	// freeList is used as a stack; the lowest slot is allocated first.
	freeList []int

	// RunHook transfers control to the user code of e once e has become
	// the current environment with its page directory loaded. It must not
	// return.
	RunHook func(e *Env)

	// OnFree is invoked before the resources of e are released.
	OnFree func(e *Env)

	// OnFork is invoked after child has been created as a copy of parent.
	OnFork func(child, parent *Env)
}

// NewTable creates a table with size slots whose page directories are
// allocated from alloc.
func NewTable(alloc *pmm.Allocator, size int) *Table {
	if size <= 0 || size > abi.MaxEnvs {
		size = abi.MaxEnvs
	}

	t := &Table{
		alloc:    alloc,
		envs:     make([]Env, size),
		freeList: make([]int, 0, size),
	}
	for i := size - 1; i >= 0; i-- {
		t.freeList = append(t.freeList, i)
	}

	return t
}

// Size returns the number of slots in the table.
func (t *Table) Size() int {
	return len(t.envs)
}

// Slot returns the environment stored at index i.
func (t *Table) Slot(i int) *Env {
	return &t.envs[i]
}

// Current returns the running environment or nil.
func (t *Table) Current() *Env {
	return t.cur
}

// SetCurrent marks e as the running environment.
func (t *Table) SetCurrent(e *Env) {
	t.cur = e
}

// All returns every environment that is not free in slot order.
func (t *Table) All() []*Env {
	var out []*Env
	for i := range t.envs {
		if t.envs[i].Status != abi.EnvFree {
			out = append(out, &t.envs[i])
		}
	}
	return out
}

// Get converts an environment id to an environment. An id of 0 refers to
// the current environment. If checkPerm is set, the environment must be
// the current environment or an immediate child of it.
func (t *Table) Get(id abi.EnvID, checkPerm bool) (*Env, *kernel.Error) {
	if id == 0 {
		if t.cur == nil {
			return nil, ErrBadEnv
		}
		return t.cur, nil
	}

	idx := id.Index()
	if idx >= len(t.envs) {
		return nil, ErrBadEnv
	}

	e := &t.envs[idx]
	if e.Status == abi.EnvFree || e.ID != id {
		return nil, ErrBadEnv
	}

	if checkPerm && (t.cur == nil || (e != t.cur && e.ParentID != t.cur.ID)) {
		return nil, ErrBadEnv
	}

	return e, nil
}

// Alloc allocates and initializes a new environment. The environment starts
// out runnable with an empty address space, a stack pointer at the top of
// the normal user stack and interrupts enabled.
func (t *Table) Alloc(parentID abi.EnvID) (*Env, *kernel.Error) {
	last := len(t.freeList) - 1
	if last < 0 {
		return nil, ErrNoFreeEnv
	}
	idx := t.freeList[last]
	e := &t.envs[idx]

	pgdir, err := vmm.NewPageDirectory(t.alloc)
	if err != nil {
		return nil, err
	}
	t.freeList = t.freeList[:last]

	// Generate an env id; the generation must never be non-positive.
	generation := (e.ID + (1 << abi.EnvGenShift)) &^ (abi.MaxEnvs - 1)
	if generation <= 0 {
		generation = 1 << abi.EnvGenShift
	}

	*e = Env{
		ID:       generation | abi.EnvID(idx),
		ParentID: parentID,
		Status:   abi.EnvRunnable,
		Pgdir:    pgdir,
		Tf: gate.Trapframe{
			DS:     abi.GDUD | abi.RPLUser,
			ES:     abi.GDUD | abi.RPLUser,
			SS:     abi.GDUD | abi.RPLUser,
			CS:     abi.GDUT | abi.RPLUser,
			ESP:    uint32(mm.UStackTop),
			EFlags: abi.FLIF,
		},
	}

	kfmt.Printf("[%08x] new env %08x\n", uint32(t.curID()), uint32(e.ID))
	return e, nil
}

// Fork allocates a child of parent whose saved registers are a copy of the
// parent's, except that the return register holds 0. The child is not
// runnable and its address space is empty.
func (t *Table) Fork(parent *Env) (*Env, *kernel.Error) {
	child, err := t.Alloc(parent.ID)
	if err != nil {
		return nil, err
	}

	child.Status = abi.EnvNotRunnable
	child.Tf = parent.Tf
	child.Tf.Regs.EAX = 0

	if t.OnFork != nil {
		t.OnFork(child, parent)
	}

	return child, nil
}

// Free releases e and all memory it uses.
func (t *Table) Free(e *Env) {
	kfmt.Printf("[%08x] free env %08x\n", uint32(t.curID()), uint32(e.ID))

	if t.OnFree != nil {
		t.OnFree(e)
	}

	e.Pgdir.Free()
	e.Pgdir = nil
	e.PgfaultUpcall = 0
	e.Status = abi.EnvFree

	idx := e.ID.Index()
	t.freeList = append(t.freeList, idx)
}

// Destroy frees e. If e is the current environment, the table no longer has
// a current environment and the caller must pick another one to run.
func (t *Table) Destroy(e *Env) {
	t.Free(e)
	if e == t.cur {
		t.cur = nil
	}
}

// Run makes e the current environment, loads its page directory and
// transfers control to it. Run does not return.
func (t *Table) Run(e *Env) {
	t.cur = e
	e.Runs++
	e.Pgdir.Activate()

	if t.RunHook == nil {
		kfmt.Panic(errNoRunHook)
		return
	}

	t.RunHook(e)
	kfmt.Panic(errNoReturn)
}

func (t *Table) curID() abi.EnvID {
	if t.cur == nil {
		return 0
	}
	return t.cur.ID
}
