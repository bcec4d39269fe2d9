package common

// Errno values returned in a0. Handlers return them as int32 so they sign
// extend into the register.
const (
	ErrnoOK    int32 = 0
	ErrnoFault int32 = -1
)
