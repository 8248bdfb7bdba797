package ioloop

import "github.com/ehrlich-b/ioloop/internal/kring"

// ShutdownHow mirrors the shutdown(2) how argument.
type ShutdownHow int32

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownReadWrite
)

// Shutdown submits a shutdown(2) on fd.
func Shutdown(fd int, how ShutdownHow) (*Op[struct{}], error) {
	d, err := Current()
	if err != nil {
		return nil, err
	}

	desc := kring.Descriptor{
		Code:  kring.OpShutdown,
		FD:    int32(fd),
		Flags: uint32(how),
	}

	return Submit(d, nil, desc, Handlers[struct{}]{
		Complete: func(c CompletionResult) (struct{}, error) {
			_, err := c.Result()
			if err != nil {
				return struct{}{}, WrapError("shutdown", err)
			}
			return struct{}{}, nil
		},
	})
}
