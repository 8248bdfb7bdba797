package ioloop

import (
	"net"

	"github.com/ehrlich-b/ioloop/internal/kring"
)

// sendMsgPayload owns the msghdr, destination address, and a copy of the
// caller's data for the duration of the request.
type sendMsgPayload struct {
	addrBuf []byte
	buf     []byte
	msghdr  []byte
}

// SendMsg submits a sendmsg(2) of data to addr via fd (for connectionless
// sockets).
func SendMsg(fd int, addr *net.TCPAddr, data []byte, flags uint32) (*Op[int32], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	addrBuf, err := encodeSockaddr(addr)
	if err != nil {
		return nil, WrapError("sendmsg", err)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	p := &sendMsgPayload{
		addrBuf: addrBuf,
		buf:     buf,
		msghdr:  make([]byte, msghdrSize+16),
	}
	// The single struct iovec (base, len) describing buf sits right after
	// the msghdr in the same owned allocation.
	iov := p.msghdr[msghdrSize:]
	putUintptr(iov[0:8], addrOf(p.buf))
	putUint64(iov[8:16], uint64(len(p.buf)))
	buildMsghdr(p.msghdr, p.addrBuf, iov)

	desc := kring.Descriptor{
		Code:  kring.OpSendMsg,
		FD:    int32(fd),
		Addr2: addrOf(p.msghdr),
		Flags: flags,
	}

	return Submit(d, p, desc, Handlers[int32]{
		Complete: func(c CompletionResult) (int32, error) {
			n, err := c.Result()
			if err != nil {
				return 0, WrapError("sendmsg", err)
			}
			return n, nil
		},
	})
}
