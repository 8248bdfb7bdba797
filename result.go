package ioloop

import "syscall"

// CompletionResult normalizes a raw kernel completion entry into a result
// and its flags (spec.md §3). A negative res is reported as the kernel
// errno it encodes; a non-negative res is the operation's success value
// (bytes transferred, accepted fd, etc).
type CompletionResult struct {
	res   int32
	Flags uint32
}

// newCompletionResult builds a CompletionResult from a raw CQE res/flags
// pair as delivered by the kernel ring.
func newCompletionResult(res int32, flags uint32) CompletionResult {
	return CompletionResult{res: res, Flags: flags}
}

// Result returns the success value, or the kernel errno wrapped as an
// error when res < 0.
func (c CompletionResult) Result() (int32, error) {
	if c.res < 0 {
		return 0, syscall.Errno(-c.res)
	}
	return c.res, nil
}

// More reports whether this completion carries the kernel's "more"
// flag, i.e. it is a non-terminal entry of a multi-shot operation
// (spec.md §3 invariant 3).
func (c CompletionResult) More() bool {
	return c.Flags&completionFlagMore != 0
}

// BufferID extracts the provided-buffer index the kernel selected for this
// completion, valid only when Flags carries completionFlagBufferUsed.
func (c CompletionResult) BufferID() (uint16, bool) {
	if c.Flags&completionFlagBufferUsed == 0 {
		return 0, false
	}
	return uint16(c.Flags >> 16), true
}

// Kernel CQE flag bits this driver interprets (IORING_CQE_F_MORE and
// IORING_CQE_F_BUFFER from linux/io_uring.h).
const (
	completionFlagBufferUsed uint32 = 1 << 0
	completionFlagMore       uint32 = 1 << 1
)
