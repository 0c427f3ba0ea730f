package resource

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// ErrBufferRemap is returned from NewMappedMemory when the buffer already has an
// outstanding mapping token. Detect it with errors.Is.
var ErrBufferRemap error = errors.New("buffer is already mapped")

// MappedMemory is an exclusive host-mapping token for one buffer. At most one token
// may be outstanding per buffer; a second NewMappedMemory call fails with
// ErrBufferRemap until the first token is released. Release must be called on every
// exit path, typically via defer.
type MappedMemory struct {
	buffer   *Buffer
	ptr      unsafe.Pointer
	released bool
}

// NewMappedMemory maps the buffer's backing slice and claims the buffer's exclusive
// mapping token.
func NewMappedMemory(buffer *Buffer) (*MappedMemory, error) {
	if buffer.mapped {
		return nil, errors.Wrapf(ErrBufferRemap, "%s of %d bytes", buffer.kind, buffer.size)
	}
	if buffer.slice == nil {
		return nil, errors.New("attempted to map a buffer with no bound memory")
	}

	ptr, _, err := buffer.slice.Map()
	if err != nil {
		return nil, errors.Wrap(err, "failed to map buffer memory")
	}

	buffer.mapped = true
	return &MappedMemory{
		buffer: buffer,
		ptr:    ptr,
	}, nil
}

// Bytes exposes the mapped range as a byte slice of the buffer's size.
func (m *MappedMemory) Bytes() []byte {
	if m.released {
		panic("attempted to read a released mapping")
	}
	return unsafe.Slice((*byte)(m.ptr), m.buffer.size)
}

// Write copies data into the mapped range at offset.
func (m *MappedMemory) Write(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > m.buffer.size {
		return errors.Newf("write of %d bytes at offset %d overflows a %d-byte buffer", len(data), offset, m.buffer.size)
	}

	copy(m.Bytes()[offset:], data)
	return nil
}

// Release returns the mapping token and drops the shared block mapping. It is safe
// to call more than once.
func (m *MappedMemory) Release() error {
	if m.released {
		return nil
	}

	m.released = true
	m.buffer.mapped = false
	m.ptr = nil
	return m.buffer.slice.Unmap()
}
