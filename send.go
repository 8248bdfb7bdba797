package ioloop

import "github.com/ehrlich-b/ioloop/internal/kring"

// sendPayload owns a copy of the caller's data for the duration of the
// request.
type sendPayload struct {
	buf []byte
}

// Send submits a send(2) of data to fd.
func Send(fd int, data []byte, flags uint32) (*Op[int32], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	p := &sendPayload{buf: buf}

	desc := kring.Descriptor{
		Code:  kring.OpSend,
		FD:    int32(fd),
		Addr:  addrOf(p.buf),
		Len:   uint32(len(p.buf)),
		Flags: flags,
	}

	return Submit(d, p, desc, Handlers[int32]{
		Complete: func(c CompletionResult) (int32, error) {
			n, err := c.Result()
			if err != nil {
				return 0, WrapError("send", err)
			}
			return n, nil
		},
	})
}
