package kernel

// Error is the error type used throughout the kernel. Each package declares
// its errors as package-level *Error values, so errors are compared by
// identity and carry the name of the package that raised them for the
// panic banner.
type Error struct {
	// Module names the package that raised the error.
	Module string

	// Message describes the error.
	Message string
}

// Error implements the error interface. Only the message is returned; the
// module is printed separately when the kernel panics.
func (e *Error) Error() string {
	return e.Message
}
