package ioloop

import "github.com/ehrlich-b/ioloop/internal/kring"

// Received is the result of a provided-buffer Recv: a checked-out buffer
// the caller must Release when done (spec.md §4.4).
type Received struct {
	Buf *Buf
}

// Recv submits a recv(2) on fd using the driver's provided-buffer ring
// (spec.md §3's "Provided buffer ring"): no payload buffer is owned here
// since the kernel selects one of the registered buffers itself, reported
// via the completion's buffer-id flag.
func Recv(fd int, flags uint32) (*Op[Received], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	desc := kring.Descriptor{
		Code:     kring.OpRecv,
		FD:       int32(fd),
		Flags:    flags,
		BufGroup: recvBufGroup(d),
	}

	return Submit(d, nil, desc, Handlers[Received]{
		Complete: func(c CompletionResult) (Received, error) {
			n, err := c.Result()
			if err != nil {
				return Received{}, WrapError("recv", err)
			}
			bufID, ok := c.BufferID()
			if !ok {
				return Received{}, NewError("recv", ErrCodeIOError, "completion missing provided-buffer id")
			}
			return Received{Buf: d.checkoutBuffer(bufID, uint32(n))}, nil
		},
	})
}

func recvBufGroup(d *Driver) uint16 {
	return d.bufRing.groupID
}
