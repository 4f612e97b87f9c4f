// Package kerrors defines the kernel-wide error taxonomy.
//
// Kernel-internal calls return (value, error); syscall handlers translate an
// error into a negative EAX by way of Errno. The taxonomy is kinds, not
// concrete types: callers match with errors.Is against the sentinels below.
package kerrors

import "errors"

var (
	ErrIO          = errors.New("io error")
	ErrInvalidArg  = errors.New("invalid argument")
	ErrReadOnly    = errors.New("read-only filesystem")
	ErrNotFound    = errors.New("not found")
	ErrNoMem       = errors.New("out of memory")
	ErrBusy        = errors.New("busy")
	ErrUnsupported = errors.New("unsupported")
)

// errno is the fixed negative status assigned to each sentinel, checked in
// order. 0 is reserved for success; Errno returns it only for a nil error.
var errno = []struct {
	sentinel error
	code     int32
}{
	{ErrIO, -1},
	{ErrInvalidArg, -2},
	{ErrReadOnly, -3},
	{ErrNotFound, -4},
	{ErrNoMem, -5},
	{ErrBusy, -6},
	{ErrUnsupported, -7},
}

// Errno maps an error to the negative EAX value a syscall handler returns.
// Errors that don't match a known kind map to -1 (ErrIO), the catch-all.
func Errno(err error) int32 {
	if err == nil {
		return 0
	}

	for _, e := range errno {
		if errors.Is(err, e.sentinel) {
			return e.code
		}
	}

	return -1
}

// IsErr classifies a status value as an error by its sign bit, matching the
// kernel's convention that 0 is OK and any negative value is a failure.
func IsErr(status int32) bool {
	return status < 0
}
