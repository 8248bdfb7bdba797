package ioloop

import "github.com/ehrlich-b/ioloop/internal/kring"

// writePayload owns a copy of the caller's data for the duration of the
// request, since the kernel may read from it asynchronously after Write
// returns.
type writePayload struct {
	buf []byte
}

// Write submits a write(2) of data to fd at the given file offset.
func Write(fd int, data []byte, offset uint64) (*Op[int32], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	p := &writePayload{buf: buf}

	desc := kring.Descriptor{
		Code:   kring.OpWrite,
		FD:     int32(fd),
		Addr:   addrOf(p.buf),
		Len:    uint32(len(p.buf)),
		Offset: offset,
	}

	return Submit(d, p, desc, Handlers[int32]{
		Complete: func(c CompletionResult) (int32, error) {
			n, err := c.Result()
			if err != nil {
				return 0, WrapError("write", err)
			}
			return n, nil
		},
	})
}
