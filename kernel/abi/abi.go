// Package abi holds the definitions shared by the kernel and user code:
// system call numbers, error codes, environment identifiers and status
// values, segment selectors and flag register bits.
package abi

import "fmt"

// Syscall is a system call number, passed in EAX.
type Syscall uint32

// System call numbers.
const (
	SysCputs Syscall = iota
	SysCgetc
	SysGetenvid
	SysEnvDestroy
	SysPageAlloc
	SysPageMap
	SysPageUnmap
	SysExofork
	SysEnvSetStatus
	SysEnvSetPgfaultUpcall
	SysYield

	// NumSyscalls is the number of defined system calls.
	NumSyscalls
)

var syscallNames = [NumSyscalls]string{
	"cputs", "cgetc", "getenvid", "env_destroy", "page_alloc", "page_map",
	"page_unmap", "exofork", "env_set_status", "env_set_pgfault_upcall",
	"yield",
}

// String returns the name of the system call.
func (s Syscall) String() string {
	if s < NumSyscalls {
		return syscallNames[s]
	}
	return fmt.Sprintf("syscall(%d)", uint32(s))
}

// Errno is a kernel error code. System calls return the negated value.
type Errno int32

// Kernel error codes.
const (
	EUnspecified Errno = iota + 1 // unspecified or unknown problem
	EBadEnv                       // environment doesn't exist or otherwise cannot be used in requested action
	EInval                        // invalid parameter
	ENoMem                        // request failed due to memory shortage
	ENoFreeEnv                    // attempt to create a new environment beyond the maximum allowed
	EFault                        // memory fault
)

var errnoMessages = map[Errno]string{
	EUnspecified: "unspecified error",
	EBadEnv:      "bad environment",
	EInval:       "invalid parameter",
	ENoMem:       "out of memory",
	ENoFreeEnv:   "out of environments",
	EFault:       "segmentation fault",
}

// Error implements the error interface.
func (e Errno) Error() string {
	if msg, ok := errnoMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("error %d", int32(e))
}

// Ret returns the value a system call returns to report e.
func (e Errno) Ret() int32 {
	return -int32(e)
}

// EnvID identifies an environment. The low bits index the environment
// table; the upper bits hold a generation counter so that stale identifiers
// of destroyed environments are rejected. The value 0 refers to the calling
// environment.
type EnvID int32

// LogMaxEnvs is log2 of the upper bound on the environment table size.
const LogMaxEnvs = 10

// MaxEnvs is the upper bound on the environment table size.
const MaxEnvs = 1 << LogMaxEnvs

// EnvGenShift is the bit position of the generation counter in an EnvID.
const EnvGenShift = 12

// Index returns the environment table index encoded in id.
func (id EnvID) Index() int {
	return int(id) & (MaxEnvs - 1)
}

// EnvStatus is the scheduling status of an environment.
type EnvStatus uint32

// Environment status values.
const (
	EnvFree EnvStatus = iota
	EnvRunnable
	EnvNotRunnable
)

// String returns a readable form of the status.
func (s EnvStatus) String() string {
	switch s {
	case EnvFree:
		return "free"
	case EnvRunnable:
		return "runnable"
	case EnvNotRunnable:
		return "not-runnable"
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

// Segment selectors of the global descriptor table.
const (
	GDKT  uint16 = 0x08 // kernel text
	GDKD  uint16 = 0x10 // kernel data
	GDUT  uint16 = 0x18 // user text
	GDUD  uint16 = 0x20 // user data
	GDTSS uint16 = 0x28 // task segment selector

	// RPLUser is the requested privilege level of user selectors.
	RPLUser uint16 = 3
)

// Flag register bits.
const (
	FLIF   uint32 = 0x00000200 // interrupt enable
	FLIOPL uint32 = 0x00003000 // I/O privilege level mask
)
