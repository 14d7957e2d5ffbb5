package errors

// KernelError is a trivial implementation of a kernel error message that
// doesn't require a memory allocation. It is used as an alternative to
// errors.New.
type KernelError string

// Error implements the error interface.
func (err KernelError) Error() string {
	return string(err)
}
