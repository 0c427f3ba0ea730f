package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/memory"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Buffer owns a core1_0.Buffer and the memory slice backing it. Synchronization
// bookkeeping for the buffer lives in the command graph's side tables, not here;
// the handle itself stays immutable after creation and binding.
type Buffer struct {
	handle core1_0.Buffer
	size   int
	kind   BufferKind

	slice *memory.Slice
	// Exclusive mapping token flag, owned by MappedMemory
	mapped bool

	allocationCallbacks *driver.AllocationCallbacks
}

// NewBuffer creates the buffer handle. The buffer is unusable until BindMemory has
// attached a backing slice.
func NewBuffer(device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks, request BufferRequest) (*Buffer, common.VkResult, error) {
	if request.Size <= 0 {
		panic("attempted to create a buffer with a nonpositive size")
	}

	handle, res, err := device.CreateBuffer(allocationCallbacks, core1_0.BufferCreateInfo{
		Size:               request.Size,
		Usage:              request.Kind.UsageFlags(),
		SharingMode:        sharingMode(len(request.QueueFamilyIndices)),
		QueueFamilyIndices: request.QueueFamilyIndices,
	})
	if err != nil {
		return nil, res, errors.Wrapf(err, "failed to create a %s of %d bytes", request.Kind, request.Size)
	}

	return &Buffer{
		handle:              handle,
		size:                request.Size,
		kind:                request.Kind,
		allocationCallbacks: allocationCallbacks,
	}, res, nil
}

// BindMemory allocates a slice matching the buffer's requirements and kind and binds
// the buffer to it.
func (b *Buffer) BindMemory(allocator *memory.Allocator) (common.VkResult, error) {
	if b.slice != nil {
		panic("attempted to bind memory to a buffer twice")
	}

	slice, res, err := allocator.AllocForBuffer(b.handle, b.kind.MemoryPropertyFlags())
	if err != nil {
		return res, err
	}

	b.slice = slice
	return res, nil
}

func (b *Buffer) Handle() core1_0.Buffer { return b.handle }
func (b *Buffer) Size() int              { return b.size }
func (b *Buffer) Kind() BufferKind       { return b.kind }

// Slice returns the backing memory slice, or nil before BindMemory.
func (b *Buffer) Slice() *memory.Slice { return b.slice }

// Destroy releases the buffer handle and its reference on the backing memory.
func (b *Buffer) Destroy() {
	b.handle.Destroy(b.allocationCallbacks)
	if b.slice != nil {
		b.slice.Release()
		b.slice = nil
	}
}

func (b *Buffer) Validate() error {
	if b.handle == nil {
		return errors.New("buffer has no device handle")
	}
	if b.slice != nil && b.slice.Size() < b.size {
		return errors.New("buffer backing slice is smaller than the buffer")
	}
	if b.mapped && b.slice == nil {
		return errors.New("buffer is flagged mapped but owns no memory")
	}
	return nil
}
