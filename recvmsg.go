package ioloop

import (
	"net"

	"github.com/ehrlich-b/ioloop/internal/kring"
)

// ReceivedFrom is the result of a RecvMsg: a checked-out provided buffer
// plus the sender's address.
type ReceivedFrom struct {
	Buf  *Buf
	From net.Addr
}

// recvMsgPayload owns the msghdr and its embedded name/iovec buffers for
// the duration of the request. The payload data itself comes from the
// provided-buffer ring, like Recv.
type recvMsgPayload struct {
	nameBuf []byte
	msghdr  []byte
	iov     []byte
}

// RecvMsg submits a recvmsg(2) using the provided-buffer ring, reporting
// the sender's address alongside the received data (spec.md §4.7).
func RecvMsg(fd int, flags uint32) (*Op[ReceivedFrom], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	p := &recvMsgPayload{
		nameBuf: make([]byte, sockaddrStorageSize),
		msghdr:  make([]byte, msghdrSize),
	}
	buildMsghdr(p.msghdr, p.nameBuf, nil)

	desc := kring.Descriptor{
		Code:     kring.OpRecvMsg,
		FD:       int32(fd),
		Addr2:    addrOf(p.msghdr),
		Flags:    flags,
		BufGroup: recvBufGroup(d),
	}

	return Submit(d, p, desc, Handlers[ReceivedFrom]{
		Complete: func(c CompletionResult) (ReceivedFrom, error) {
			n, err := c.Result()
			if err != nil {
				return ReceivedFrom{}, WrapError("recvmsg", err)
			}
			bufID, ok := c.BufferID()
			if !ok {
				return ReceivedFrom{}, NewError("recvmsg", ErrCodeIOError, "completion missing provided-buffer id")
			}
			addr, _ := decodeSockaddr(p.nameBuf)
			return ReceivedFrom{
				Buf:  d.checkoutBuffer(bufID, uint32(n)),
				From: addr,
			}, nil
		},
	})
}

// msghdrSize mirrors struct msghdr's footprint on linux/amd64.
const msghdrSize = 56

// buildMsghdr lays out a minimal struct msghdr pointing msg_name at
// nameBuf and msg_iov/msg_iovlen at iov (nil when the kernel is filling
// the payload itself, as with provided buffers).
func buildMsghdr(hdr []byte, nameBuf []byte, iov []byte) {
	putUintptr(hdr[0:8], addrOf(nameBuf))
	putUint32(hdr[8:12], uint32(len(nameBuf)))
	if iov != nil {
		putUintptr(hdr[16:24], addrOf(iov))
		putUint64(hdr[24:32], 1)
	}
}

func putUintptr(b []byte, v uintptr) { putUint64(b, uint64(v)) }

func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
