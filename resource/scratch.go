package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/memory"
	"github.com/kilnrender/kiln/memutils"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Staged offsets feed CmdCopyBufferToImage, whose buffer offset must be a multiple
// of the texel block size. 16 bytes covers every block-compressed format in use.
const stagingAlignment = 16

// Scratch is a host-visible staging buffer that stays mapped for its whole life.
// Upload paths fill it from the CPU, record transfer commands reading from it, and
// destroy it once the transfer has completed.
type Scratch struct {
	Buffer *Buffer

	mapped *MappedMemory
	// Bump offset for sequential staging writes
	offset int
}

// NewScratch creates, binds, and maps a staging buffer of the given size.
func NewScratch(device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks, allocator *memory.Allocator, size int) (*Scratch, common.VkResult, error) {
	buffer, res, err := NewBuffer(device, allocationCallbacks, BufferRequest{
		Size: size,
		Kind: BufferKindScratch,
	})
	if err != nil {
		return nil, res, err
	}

	res, err = buffer.BindMemory(allocator)
	if err != nil {
		buffer.Destroy()
		return nil, res, err
	}

	mapped, err := NewMappedMemory(buffer)
	if err != nil {
		buffer.Destroy()
		return nil, core1_0.VKErrorMemoryMapFailed, err
	}

	return &Scratch{
		Buffer: buffer,
		mapped: mapped,
	}, core1_0.VKSuccess, nil
}

// Push copies data into the scratch buffer and returns the byte offset it was staged
// at, for use as a transfer source offset. Offsets are aligned to stagingAlignment.
func (s *Scratch) Push(data []byte) (int, error) {
	offset := memutils.AlignUp(s.offset, stagingAlignment)
	if offset+len(data) > s.Buffer.Size() {
		return 0, errors.Newf("staging %d bytes at offset %d overflows a %d-byte scratch buffer", len(data), offset, s.Buffer.Size())
	}

	err := s.mapped.Write(offset, data)
	if err != nil {
		return 0, err
	}

	s.offset = offset + len(data)
	return offset, nil
}

// Destroy unmaps and destroys the staging buffer. Only call after the device has
// finished reading from it.
func (s *Scratch) Destroy() error {
	err := s.mapped.Release()
	s.Buffer.Destroy()
	return err
}
