package ioloop

import (
	"net"

	"github.com/ehrlich-b/ioloop/internal/kring"
)

// Accepted is the result of a successful Accept: the new connection's file
// descriptor and the peer address the kernel reported. AcceptMulti fills
// in only FD; its Addr is nil.
type Accepted struct {
	FD   int
	Addr net.Addr
}

// acceptPayload owns the sockaddr_storage buffer the kernel fills in for
// the duration of the request.
type acceptPayload struct {
	addrBuf    []byte
	addrLenBuf []byte
}

// Accept submits a single-shot accept(2) on the listening socket fd,
// locating the driver via the scope installed by Driver.With (spec.md
// §4.7, §9).
func Accept(fd int) (*Op[Accepted], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	p := &acceptPayload{
		addrBuf:    make([]byte, sockaddrStorageSize),
		addrLenBuf: make([]byte, 8),
	}
	putUint64(p.addrLenBuf, uint64(sockaddrStorageSize))

	desc := kring.Descriptor{
		Code:  kring.OpAccept,
		FD:    int32(fd),
		Addr:  addrOf(p.addrBuf),
		Addr2: addrOf(p.addrLenBuf),
	}

	return Submit(d, p, desc, Handlers[Accepted]{
		Complete: func(c CompletionResult) (Accepted, error) {
			res, err := c.Result()
			if err != nil {
				return Accepted{}, WrapError("accept", err)
			}
			addr, _ := decodeSockaddr(p.addrBuf)
			return Accepted{FD: int(res), Addr: addr}, nil
		},
	})
}

// AcceptMulti submits a multi-shot accept (spec.md §4.7's "AcceptMulti
// (multi-shot)"): onAccept is invoked once per connection accepted while
// the op remains pollable; the returned Op resolves only when the
// listener is closed and the kernel delivers a terminal completion.
func AcceptMulti(fd int, onAccept func(Accepted)) (*Op[struct{}], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	desc := kring.Descriptor{
		Code: kring.OpAcceptMulti,
		FD:   int32(fd),
	}

	return Submit(d, nil, desc, Handlers[struct{}]{
		Update: func(c CompletionResult) {
			res, err := c.Result()
			if err != nil {
				return
			}
			onAccept(Accepted{FD: int(res)})
		},
		Complete: func(c CompletionResult) (struct{}, error) {
			_, err := c.Result()
			if err != nil {
				return struct{}{}, WrapError("accept_multi", err)
			}
			return struct{}{}, nil
		},
	})
}
