package ioloop

import (
	"net"

	"github.com/ehrlich-b/ioloop/internal/kring"
)

// connectPayload owns the sockaddr buffer the kernel reads from for the
// duration of the request.
type connectPayload struct {
	addrBuf []byte
}

// Connect submits a connect(2) on fd toward addr.
func Connect(fd int, addr *net.TCPAddr) (*Op[struct{}], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	buf, err := encodeSockaddr(addr)
	if err != nil {
		return nil, WrapError("connect", err)
	}
	p := &connectPayload{addrBuf: buf}

	desc := kring.Descriptor{
		Code: kring.OpConnect,
		FD:   int32(fd),
		Addr: addrOf(p.addrBuf),
		Len2: uint32(len(p.addrBuf)),
	}

	return Submit(d, p, desc, Handlers[struct{}]{
		Complete: func(c CompletionResult) (struct{}, error) {
			_, err := c.Result()
			if err != nil {
				return struct{}{}, WrapError("connect", err)
			}
			return struct{}{}, nil
		},
	})
}
