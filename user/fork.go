package user

import (
	"github.com/tc250/jos07/kernel/abi"
	"github.com/tc250/jos07/kernel/mm"
	"github.com/tc250/jos07/ulib"
)

const forktreeDepth = 3

// forktree builds a binary tree of environments, each printing its path
// from the root.
func forktree(u ulib.Context) {
	forktreeAt(u, ulib.ThisEnv(u), "")
}

func forktreeAt(u ulib.Context, self abi.EnvID, cur string) {
	ulib.Printf(u, "%04x: I am '%s'\n", uint32(self), cur)

	forkchild(u, cur, '0')
	forkchild(u, cur, '1')
}

func forkchild(u ulib.Context, cur string, branch byte) {
	if len(cur) >= forktreeDepth {
		return
	}

	nxt := cur + string(branch)
	err := ulib.Fork(u, func(u ulib.Context, o ulib.Outcome) {
		if o.IsChild() {
			forktreeAt(u, o.Self(), nxt)
		}
	})
	if err != nil {
		ulib.Panic(u, "fork: %v", err)
	}
}

// cowwrite checks that a write in the child does not show through to the
// parent.
func cowwrite(u ulib.Context) {
	writeString(u, DataVA, "original")

	err := ulib.Fork(u, func(u ulib.Context, o ulib.Outcome) {
		if !o.IsChild() {
			return
		}
		writeString(u, DataVA, "written by child")
		ulib.Printf(u, "child sees: %s\n", readString(u, DataVA, 64))
	})
	if err != nil {
		ulib.Panic(u, "fork: %v", err)
		return
	}

	ulib.SysYield(u)
	ulib.Printf(u, "parent sees: %s\n", readString(u, DataVA, 64))
}

// spin forks a child that never gives up the processor and relies on the
// timer to get it back.
func spin(u ulib.Context) {
	ulib.Printf(u, "I am the parent.  Forking the child...\n")

	var child abi.EnvID
	err := ulib.Fork(u, func(u ulib.Context, o ulib.Outcome) {
		if !o.IsChild() {
			child = o.Child()
			return
		}

		ulib.Printf(u, "I am the child.  Spinning...\n")
		for {
			u.Step()
		}
	})
	if err != nil {
		ulib.Panic(u, "fork: %v", err)
		return
	}

	ulib.Printf(u, "I am the parent.  Running the child...\n")
	for i := 0; i < 8; i++ {
		ulib.SysYield(u)
	}

	ulib.Printf(u, "I am the parent.  Killing the child...\n")
	if err = ulib.SysEnvDestroy(u, child); err != nil {
		ulib.Panic(u, "sys_env_destroy: %v", err)
	}
}

// sforkMarkVA is a word on the normal user stack below the region used to
// stage console output.
const sforkMarkVA = mm.UStackTop - mm.PageSize + 0x10

// sforkProg takes turns with a shared-memory child incrementing a counter
// in the data page. The stack page stays private to each side.
func sforkProg(u ulib.Context) {
	ulib.WriteUint32(u, DataVA, 0)
	writeString(u, sforkMarkVA, "parent")

	err := ulib.SFork(u, func(u ulib.Context, o ulib.Outcome) {
		parity, who := uint32(0), "parent"
		if o.IsChild() {
			parity, who = 1, "child"
			writeString(u, sforkMarkVA, "child")
		}

		for {
			v := ulib.ReadUint32(u, DataVA)
			if v >= 10 {
				break
			}
			if v%2 != parity {
				ulib.SysYield(u)
				continue
			}

			ulib.Printf(u, "%s: counter %d\n", who, v)
			ulib.WriteUint32(u, DataVA, v+1)
		}

		ulib.Printf(u, "%s: stack holds %s\n", who, readString(u, sforkMarkVA, 16))
	})
	if err != nil {
		ulib.Panic(u, "sfork: %v", err)
	}
}
