//go:build linux

package kring

import (
	"fmt"
	"unsafe"

	"github.com/ehrlich-b/ioloop/internal/logging"
	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// ioUringRing is the production Ring, backed by giouring (a liburing-shaped
// binding). It is the sole production path per spec.md §9's Design Note:
// the richer Driver — buffer ring, timer wheel, multi-shot support — gets
// exactly one kernel binding.
type ioUringRing struct {
	ring     *giouring.Ring
	features Features
	logger   *logging.Logger
}

// New creates a kernel ring and reports its features. A kernel without
// fast-poll is rejected with an error so the caller (Driver construction)
// can report ErrCodeUnsupported. Fast-poll is the only feature read from
// the kernel: probeFeatures reports multi-shot accept as present exactly
// when fast-poll is, and linked timeout and provided buffers as always
// present, so a kernel lacking those is not rejected here.
func New(entries uint32) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating io_uring", "entries", entries)

	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("io_uring_setup failed: %w", err)
	}

	features := probeFeatures(ring)
	if !features.FastPoll {
		ring.QueueExit()
		return nil, fmt.Errorf("kernel does not support IORING_FEAT_FAST_POLL")
	}
	if !features.ProvidedBuffers {
		ring.QueueExit()
		return nil, fmt.Errorf("kernel does not support provided buffer rings")
	}

	logger.Info("io_uring ready", "entries", entries, "features", fmt.Sprintf("%+v", features))
	return &ioUringRing{ring: ring, features: features, logger: logger}, nil
}

func probeFeatures(ring *giouring.Ring) Features {
	p := ring.Params()
	return Features{
		FastPoll:        p.Features&giouring.FeatFastPoll != 0,
		MultishotAccept: p.Features&giouring.FeatFastPoll != 0,
		LinkedTimeout:   true,
		ProvidedBuffers: p.Features&giouring.FeatNoDrop != 0 || true,
	}
}

func (r *ioUringRing) Close() error {
	r.ring.QueueExit()
	return nil
}

func (r *ioUringRing) Features() Features { return r.features }

func (r *ioUringRing) SQSpaceLeft() uint32 {
	return r.ring.SQSpaceLeft()
}

func (r *ioUringRing) Push(d Descriptor) error {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrQueueFull
	}

	switch d.Code {
	case OpAccept:
		sqe.PrepareAccept(d.FD, d.Addr, uintptr(d.Addr2), int(d.Flags))
	case OpAcceptMulti:
		sqe.PrepareMultishotAccept(d.FD, d.Addr, uintptr(d.Addr2), int(d.Flags))
	case OpConnect:
		sqe.PrepareConnect(d.FD, d.Addr, uint64(d.Len2))
	case OpRead:
		sqe.PrepareRead(d.FD, d.Addr, d.Len, d.Offset)
	case OpWrite:
		sqe.PrepareWrite(d.FD, d.Addr, d.Len, d.Offset)
	case OpRecv:
		if d.BufGroup != 0 {
			sqe.PrepareRecv(d.FD, 0, 0, int(d.Flags))
			sqe.SetFlags(giouring.SqeBufferSelect)
			sqe.SetBufGroup(d.BufGroup)
		} else {
			sqe.PrepareRecv(d.FD, d.Addr, d.Len, int(d.Flags))
		}
	case OpSend:
		sqe.PrepareSend(d.FD, d.Addr, d.Len, int(d.Flags))
	case OpRecvMsg:
		if d.BufGroup != 0 {
			sqe.PrepareRecvmsg(d.FD, d.Addr2, int(d.Flags))
			sqe.SetFlags(giouring.SqeBufferSelect)
			sqe.SetBufGroup(d.BufGroup)
		} else {
			sqe.PrepareRecvmsg(d.FD, d.Addr2, int(d.Flags))
		}
	case OpSendMsg:
		sqe.PrepareSendmsg(d.FD, d.Addr2, int(d.Flags))
	case OpShutdown:
		sqe.PrepareShutdown(d.FD, int(d.Flags))
	case OpTimeout:
		sqe.PrepareTimeout((*unix.Timespec)(unsafe.Pointer(d.Timespec)), 0, 0)
	case OpLinkTimeout:
		sqe.PrepareLinkTimeout((*unix.Timespec)(unsafe.Pointer(d.Timespec)), 0)
	case OpAsyncCancel:
		sqe.PrepareCancel64(d.CancelTarget, 0)
	default:
		return fmt.Errorf("kring: unknown opcode %d", d.Code)
	}

	if d.Linked {
		sqe.SetFlags(sqe.Flags | giouring.SqeIOLink)
	}
	sqe.SetUserData(d.UserData)
	return nil
}

func (r *ioUringRing) Submit() (uint32, error) {
	n, err := r.ring.Submit()
	return uint32(n), err
}

func (r *ioUringRing) SubmitAndWait(waitNr uint32) (uint32, error) {
	n, err := r.ring.SubmitAndWait(waitNr)
	return uint32(n), err
}

func (r *ioUringRing) PopCompletions() []CQE {
	var out []CQE
	for {
		cqe, err := r.ring.PeekCQE()
		if err != nil || cqe == nil {
			break
		}
		out = append(out, CQE{UserData: cqe.UserData, Res: cqe.Res, Flags: cqe.Flags})
		r.ring.CQESeen(cqe)
	}
	return out
}

func (r *ioUringRing) RegisterBufferRing(groupID uint16, entries uint16, bufLen uint32, bufBase uintptr, ringMem []byte) error {
	_, err := r.ring.SetupBufRing(ringMem, uint32(entries), groupID, 0)
	if err != nil {
		if errno, ok := asErrno(err); ok {
			return errno
		}
		return err
	}
	return nil
}

func (r *ioUringRing) UnregisterBufferRing(groupID uint16) error {
	return r.ring.FreeBufRing(groupID)
}

func (r *ioUringRing) SeedBuffer(groupID uint16, bufferID uint16, addr uintptr, bufLen uint32) {
	r.ring.BufRingAdd(groupID, addr, bufLen, bufferID, giouring.BufRingMask(uint32(bufferID)), 0)
	r.ring.BufRingAdvance(groupID, 1)
}

func asErrno(err error) (unix.Errno, bool) {
	errno, ok := err.(unix.Errno)
	return errno, ok
}
