// Package kring abstracts the kernel completion-queue ring (io_uring) the
// Driver submits to and drains completions from. The production
// implementation (ring_linux.go) is backed by github.com/pawelgaczynski/
// giouring; tests drive a synthetic Ring instead (see the root package's
// FakeRing in testing.go) so the engine's state machine can be exercised
// without a kernel.
package kring

import "golang.org/x/sys/unix"

// OpCode names one of the opcode adapters spec.md §4.7 requires.
type OpCode int

const (
	OpAccept OpCode = iota
	OpAcceptMulti
	OpConnect
	OpRead
	OpWrite
	OpRecv
	OpSend
	OpRecvMsg
	OpSendMsg
	OpShutdown
	OpTimeout
	OpLinkTimeout
	OpAsyncCancel
)

// Descriptor is opaque submission intent: everything a Ring needs to build
// one SQE. Opcode adapters populate it; only kring translates it into a
// concrete kernel request.
type Descriptor struct {
	Code OpCode

	FD int32

	// Addr points at the primary buffer or sockaddr owned by the Op's
	// payload for the duration of the request (spec.md §4.7).
	Addr uintptr
	Len  uint32

	// Addr2/Len2 carry a secondary value: Addr2 is the addrlen pointer for
	// Accept and the msghdr for RecvMsg/SendMsg; Len2 is the sockaddr
	// length for Connect.
	Addr2 uintptr
	Len2  uint32

	Offset uint64
	Flags  uint32

	// BufGroup selects a provided-buffer group for Recv-class ops
	// (0 disables provided-buffer selection).
	BufGroup uint16

	// CancelTarget names the slot key an AsyncCancel op targets.
	CancelTarget uint64

	// Timespec is the deadline for Timeout/LinkTimeout ops.
	Timespec *unix.Timespec

	// Linked marks this SQE with IOSQE_IO_LINK so the next pushed SQE
	// (a LinkTimeout) is tied to it.
	Linked bool

	UserData uint64
}

// CQE is a normalized completion-queue entry.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// Features reports which kernel capabilities a Ring was able to confirm at
// construction (spec.md §6).
type Features struct {
	FastPoll        bool
	MultishotAccept bool
	LinkedTimeout   bool
	ProvidedBuffers bool
}

// Ring is the kernel-facing interface the SubmissionGateway and Driver
// depend on. Exactly one production implementation exists (ring_linux.go);
// the root package's FakeRing is a test double.
type Ring interface {
	// Close tears down the ring. Any registered buffer ring must already
	// be unregistered (spec.md §6).
	Close() error

	// Features reports the capabilities probed at construction.
	Features() Features

	// SQSpaceLeft reports free submission-queue slots.
	SQSpaceLeft() uint32

	// Push writes one SQE into ring memory without making a syscall.
	// Returns ErrQueueFull if the queue is full; callers must Submit (or
	// SubmitAndWait) to drain it first.
	Push(d Descriptor) error

	// Submit flushes pushed SQEs to the kernel without waiting for any
	// completions.
	Submit() (uint32, error)

	// SubmitAndWait flushes pushed SQEs and blocks until at least waitNr
	// completions are available (or a signal/EBUSY interrupts it).
	SubmitAndWait(waitNr uint32) (uint32, error)

	// PopCompletions drains every completion currently visible on the
	// completion queue, advancing the CQ head past each one.
	PopCompletions() []CQE

	// RegisterBufferRing registers an anonymous-memory provided-buffer
	// ring under groupID. bufBase/bufLen describe the backing buffer
	// storage the caller owns (spec.md §4.4); ringMem is the backing
	// storage for the io_uring_buf descriptor ring itself.
	RegisterBufferRing(groupID uint16, entries uint16, bufLen uint32, bufBase uintptr, ringMem []byte) error

	// UnregisterBufferRing releases a previously registered buffer-ring
	// group. Must be called before Close (spec.md §6).
	UnregisterBufferRing(groupID uint16) error

	// SeedBuffer (re-)publishes buffer bufferID (length bufLen, base
	// address addr) into the ring's tail slot, making it available to the
	// kernel again. Used both at registration time and whenever a Buf is
	// released back to the ring.
	SeedBuffer(groupID uint16, bufferID uint16, addr uintptr, bufLen uint32)
}

// ErrQueueFull is returned by Push when the submission queue has no free
// slots; the SubmissionGateway handles it per spec.md §4.1.
var ErrQueueFull = errQueueFull{}

type errQueueFull struct{}

func (errQueueFull) Error() string { return "submission queue full" }
