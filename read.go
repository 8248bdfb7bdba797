package ioloop

import (
	"github.com/ehrlich-b/ioloop/internal/bufpool"
	"github.com/ehrlich-b/ioloop/internal/kring"
)

// readPayload owns the destination buffer for the duration of the
// request (spec.md §4.7's "owns any buffers the kernel will ... write
// into").
type readPayload struct {
	buf []byte
}

// Read submits a read(2) of up to length bytes from fd at the given file
// offset (0 for stream sockets/pipes that ignore it). The kernel reads into
// a pool-backed buffer from internal/bufpool; on completion the bytes read
// are copied into a fresh slice and the pooled buffer is put back. The
// pooled buffer of an Op that is closed before completing is not put back
// to the pool.
func Read(fd int, length uint32, offset uint64) (*Op[[]byte], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	buf := bufpool.Get(length)
	p := &readPayload{buf: buf}

	desc := kring.Descriptor{
		Code:   kring.OpRead,
		FD:     int32(fd),
		Addr:   addrOf(p.buf),
		Len:    length,
		Offset: offset,
	}

	return Submit(d, p, desc, Handlers[[]byte]{
		Complete: func(c CompletionResult) ([]byte, error) {
			n, err := c.Result()
			if err != nil {
				bufpool.Put(p.buf)
				return nil, WrapError("read", err)
			}
			out := make([]byte, n)
			copy(out, p.buf[:n])
			bufpool.Put(p.buf)
			return out, nil
		},
	})
}
