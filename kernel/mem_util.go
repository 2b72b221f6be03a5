package kernel

import "unsafe"

// HostSlice returns a byte slice that aliases size bytes of memory starting
// at the given host address. The address must come from memory the Go
// runtime does not manage, such as the mmapped physical arena.
func HostSlice(addr, size uintptr) []byte {
	if size == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

// Memset sets size bytes at the given host address to the supplied value.
// Instead of using a for loop, this function uses log2(size) copy calls which
// is considerably faster for page-sized regions.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := HostSlice(addr, size)

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}
