package mm

// Virtual memory map:
//
//	4 Gig -------->  +------------------------------+
//	                 |   Remapped physical memory   | RW/--
//	KernBase ----->  +------------------------------+ 0xf0000000
//	                 |  Kernel stack + guard        | RW/--  PTSize
//	MMIOLim ------>  +------------------------------+ 0xefc00000
//	                 |  Memory-mapped I/O           | RW/--  PTSize
//	ULim, MMIO --->  +------------------------------+ 0xef800000
//	                 |  Cur. page table (User R-)   | R-/R-  PTSize
//	UVPT      ---->  +------------------------------+ 0xef400000
//	                 |          RO PAGES            | R-/R-  PTSize
//	UPages    ---->  +------------------------------+ 0xef000000
//	                 |           RO ENVS            | R-/R-  PTSize
//	UTop,UEnvs --->  +------------------------------+ 0xeec00000
//	UXStackTop -/    |     User Exception Stack     | RW/RW  PageSize
//	                 +------------------------------+ 0xeebff000
//	                 |       Empty Memory (*)       | --/--  PageSize
//	UStackTop  --->  +------------------------------+ 0xeebfe000
//	                 |      Normal User Stack       | RW/RW  PageSize
//	                 +------------------------------+ 0xeebfd000
//	                 ~                              ~
//	UText  ------->  +------------------------------+ 0x00800000
//	PFTemp ------->  |       Empty Memory (*)       |        PTSize
//	UTemp -------->  +------------------------------+ 0x00400000
//	                 |       Empty Memory (*)       |
//	0 ------------>  +------------------------------+
const (
	// KernBase is the start of the kernel's mapping of physical memory.
	KernBase = uintptr(0xf0000000)

	// KStackTop is the top of the kernel stack used on traps from user
	// mode.
	KStackTop = KernBase

	// KStkSize is the size of the kernel stack.
	KStkSize = 8 * PageSize

	// MMIOLim is the top of the memory-mapped I/O region that sits below
	// the kernel stacks and their guard pages.
	MMIOLim = KStackTop - PTSize

	// ULim is the upper bound of any address user code may touch. It is
	// also the base of the memory-mapped I/O region.
	ULim = MMIOLim - PTSize

	// UVPT is the user read-only virtual page table: the self-map window
	// that exposes the active page directory and page tables.
	UVPT = ULim - PTSize

	// UPages is the read-only copy of the physical page metadata.
	UPages = UVPT - PTSize

	// UEnvs is the read-only copy of the environment table.
	UEnvs = UPages - PTSize

	// UTop is the top of user-accessible, user-writable memory.
	UTop = UEnvs

	// UXStackTop is the top of the one-page user exception stack.
	UXStackTop = UTop

	// UXStackBase is the lowest address of the user exception stack.
	UXStackBase = UXStackTop - PageSize

	// UStackTop is the top of the normal user stack. The page below
	// UXStackTop is left unmapped as a guard.
	UStackTop = UTop - 2*PageSize

	// UText is where user programs are loaded.
	UText = uintptr(2) * PTSize

	// UTemp is a scratch region used by the kernel and user library.
	UTemp = PTSize

	// PFTemp is the scratch page used by the copy-on-write fault handler.
	PFTemp = UTemp + PTSize - PageSize
)

// PDX returns the page directory index of a virtual address.
func PDX(va uintptr) int {
	return int((va >> PTShift) & (EntriesPerTable - 1))
}

// PTX returns the page table index of a virtual address.
func PTX(va uintptr) int {
	return int((va >> PageShift) & (EntriesPerTable - 1))
}

// VPN returns the virtual page number of a virtual address.
func VPN(va uintptr) uintptr {
	return va >> PageShift
}

// RoundDown rounds addr down to the nearest multiple of n (a power of 2).
func RoundDown(addr, n uintptr) uintptr {
	return addr &^ (n - 1)
}

// RoundUp rounds addr up to the nearest multiple of n (a power of 2).
func RoundUp(addr, n uintptr) uintptr {
	return (addr + n - 1) &^ (n - 1)
}
