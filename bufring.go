package ioloop

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/ehrlich-b/ioloop/internal/kring"
	"golang.org/x/sys/unix"
)

// addrOf returns the base address of a non-empty byte slice's backing
// array, for handing off to the kernel as a provided-buffer base pointer.
func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// BufferRingErrorKind distinguishes the registration failure modes
// spec.md §4.4 calls out distinctly from the general error taxonomy.
type BufferRingErrorKind int

const (
	// BufferRingUnsupported means the kernel lacks provided-buffer-ring
	// support (EINVAL).
	BufferRingUnsupported BufferRingErrorKind = iota
	// BufferRingDuplicateGroup means groupID is already registered
	// (EEXIST); the caller must unregister before reuse.
	BufferRingDuplicateGroup
	// BufferRingGeneric is any other registration error, preserved
	// verbatim.
	BufferRingGeneric
)

// BufferRingError reports why ProvidedBufferRing registration failed.
type BufferRingError struct {
	Kind  BufferRingErrorKind
	Errno syscall.Errno
}

func (e *BufferRingError) Error() string {
	switch e.Kind {
	case BufferRingUnsupported:
		return "ioloop: provided buffer rings unsupported by this kernel"
	case BufferRingDuplicateGroup:
		return "ioloop: buffer group already registered"
	default:
		return fmt.Sprintf("ioloop: buffer ring registration failed: %v", e.Errno)
	}
}

func classifyBufferRingError(err error) error {
	errno, ok := err.(unix.Errno)
	if !ok {
		return &BufferRingError{Kind: BufferRingGeneric}
	}
	switch errno {
	case unix.EINVAL:
		return &BufferRingError{Kind: BufferRingUnsupported, Errno: syscall.Errno(errno)}
	case unix.EEXIST:
		return &BufferRingError{Kind: BufferRingDuplicateGroup, Errno: syscall.Errno(errno)}
	default:
		return &BufferRingError{Kind: BufferRingGeneric, Errno: syscall.Errno(errno)}
	}
}

// ProvidedBufferRing is a registered pool of fixed-size buffers the kernel
// selects from for recv-class completions (spec.md §3, §4.4). The ring
// outlives every outstanding Buf checkout; it is unregistered and its
// backing memory released only at Driver teardown.
type ProvidedBufferRing struct {
	mu sync.Mutex

	ring    kring.Ring
	groupID uint16
	bufLen  uint32
	count   uint16

	storage  []byte // backing memory for the buf_cnt fixed-size buffers
	ringMem  []byte // backing memory for the io_uring_buf descriptor ring
	checked  []bool // index -> currently checked out
}

// newProvidedBufferRing allocates backing storage for count buffers of
// bufLen bytes each (anonymous, page-aligned per spec.md §4.4) and
// registers them with ring under groupID.
func newProvidedBufferRing(ring kring.Ring, groupID uint16, count uint16, bufLen uint32) (*ProvidedBufferRing, error) {
	storageSize := int(count) * int(bufLen)
	storage, err := unix.Mmap(-1, 0, storageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, classifyBufferRingError(err)
	}

	// io_uring_buf entries are 16 bytes each; the descriptor ring itself
	// needs count of them, page-aligned.
	const bufDescSize = 16
	ringMem, err := unix.Mmap(-1, 0, int(count)*bufDescSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		unix.Munmap(storage)
		return nil, classifyBufferRingError(err)
	}

	if err := ring.RegisterBufferRing(groupID, count, bufLen, addrOf(storage), ringMem); err != nil {
		unix.Munmap(storage)
		unix.Munmap(ringMem)
		return nil, classifyBufferRingError(err)
	}

	r := &ProvidedBufferRing{
		ring:    ring,
		groupID: groupID,
		bufLen:  bufLen,
		count:   count,
		storage: storage,
		ringMem: ringMem,
		checked: make([]bool, count),
	}
	for i := uint16(0); i < count; i++ {
		r.seedLocked(i)
	}
	return r, nil
}

func (r *ProvidedBufferRing) seedLocked(bufferID uint16) {
	addr := addrOf(r.storage[int(bufferID)*int(r.bufLen):])
	r.ring.SeedBuffer(r.groupID, bufferID, addr, r.bufLen)
}

// checkout obtains exclusive access to bufferID, truncated to length
// bytes. The kernel reported bufferID in a completion's flags; this does
// not re-validate that the kernel actually owns it.
func (r *ProvidedBufferRing) checkout(bufferID uint16, length uint32) *Buf {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checked[bufferID] = true
	start := int(bufferID) * int(r.bufLen)
	return &Buf{
		ring:     r,
		bufferID: bufferID,
		data:     r.storage[start : start+int(length) : start+int(r.bufLen)],
	}
}

// release returns bufferID to the kernel ring, making it eligible for
// selection again.
func (r *ProvidedBufferRing) release(bufferID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.checked[bufferID] {
		return
	}
	r.checked[bufferID] = false
	r.seedLocked(bufferID)
}

// close unregisters the buffer ring and releases its backing memory. Must
// happen before the owning kernel ring is closed (spec.md §6).
func (r *ProvidedBufferRing) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.ring.UnregisterBufferRing(r.groupID)
	unix.Munmap(r.storage)
	unix.Munmap(r.ringMem)
	return err
}

// Buf is a checked-out provided buffer. Ownership returns to the ring
// when Release is called.
type Buf struct {
	ring      *ProvidedBufferRing
	bufferID  uint16
	data      []byte
	onRelease func()
}

// Bytes returns the buffer's content, truncated to the length the kernel
// reported for this completion.
func (b *Buf) Bytes() []byte { return b.data }

// Release returns the buffer to the provided-buffer ring so the kernel
// may select it again.
func (b *Buf) Release() {
	b.ring.release(b.bufferID)
	if b.onRelease != nil {
		b.onRelease()
	}
}
