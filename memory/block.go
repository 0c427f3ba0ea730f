package memory

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"golang.org/x/exp/slog"
)

// Block represents a single core1_0.DeviceMemory allocation carved up by the bump
// allocator. Blocks are shared: every Slice created from a Block holds a reference,
// and the device memory is freed exactly once, when the last reference is released.
//
// The host mapping is also shared. Multiple borrowers may request the mapped pointer
// at once; the memory is mapped on the first borrow and unmapped when the final
// borrower calls Unmap.
type Block struct {
	memory          core1_0.DeviceMemory
	size            int
	memoryTypeIndex int
	propertyFlags   core1_0.MemoryPropertyFlags

	references int
	freed      bool

	mapReferences int
	mapData       unsafe.Pointer

	allocationCallbacks *driver.AllocationCallbacks
	logger              *slog.Logger
}

// Init populates a zeroed Block with a live device allocation. The block starts with
// zero references; the creating allocator is expected to Retain it before handing out
// slices.
func (b *Block) Init(
	logger *slog.Logger,
	memory core1_0.DeviceMemory,
	size int,
	memoryTypeIndex int,
	propertyFlags core1_0.MemoryPropertyFlags,
	allocationCallbacks *driver.AllocationCallbacks,
) {
	b.logger = logger
	b.memory = memory
	b.size = size
	b.memoryTypeIndex = memoryTypeIndex
	b.propertyFlags = propertyFlags
	b.allocationCallbacks = allocationCallbacks
}

func (b *Block) Size() int                                 { return b.size }
func (b *Block) MemoryTypeIndex() int                      { return b.memoryTypeIndex }
func (b *Block) PropertyFlags() core1_0.MemoryPropertyFlags { return b.propertyFlags }

// DeviceMemory retrieves the underlying memory object for bind operations.
func (b *Block) DeviceMemory() core1_0.DeviceMemory { return b.memory }

func (b *Block) IsHostVisible() bool {
	return b.propertyFlags&core1_0.MemoryPropertyHostVisible != 0
}

func (b *Block) References() int    { return b.references }
func (b *Block) MapReferences() int { return b.mapReferences }

// Retain adds a reference to this block's device memory.
func (b *Block) Retain() {
	if b.freed {
		panic("attempted to retain a block whose device memory has already been freed")
	}
	b.references++
}

// Release drops one reference. When the last reference is released the device memory
// is freed and the block becomes unusable.
func (b *Block) Release() {
	if b.freed {
		panic("attempted to release a block whose device memory has already been freed")
	}
	if b.references <= 0 {
		panic("block reference count went negative")
	}

	b.references--
	if b.references > 0 {
		return
	}

	if b.mapReferences > 0 {
		b.logger.LogAttrs(context.Background(), slog.LevelWarn,
			"freeing a device memory block that still has live mappings",
			slog.Int("mapReferences", b.mapReferences),
		)
		b.memory.Unmap()
		b.mapData = nil
		b.mapReferences = 0
	}

	b.memory.Free(b.allocationCallbacks)
	b.freed = true
}

// Map borrows the block's shared host mapping, mapping the device memory if this is
// the first outstanding borrow. Each successful Map must be paired with an Unmap.
func (b *Block) Map() (unsafe.Pointer, common.VkResult, error) {
	if b.freed {
		return nil, core1_0.VKErrorUnknown, errors.New("attempted to map a freed device memory block")
	}
	if !b.IsHostVisible() {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("attempted to map a block that is not host-visible")
	}

	if b.mapReferences > 0 {
		if b.mapData == nil {
			return nil, core1_0.VKErrorUnknown, errors.New("the block is showing existing mapping references, but no mapped memory")
		}

		b.mapReferences++
		return b.mapData, core1_0.VKSuccess, nil
	}

	mapData, res, err := b.memory.Map(0, -1, 0)
	if err != nil {
		return nil, res, err
	}

	b.mapData = mapData
	b.mapReferences = 1
	return mapData, res, nil
}

// Unmap returns a borrow taken with Map. The device memory is unmapped once the last
// borrower has released it.
func (b *Block) Unmap() error {
	if b.mapReferences <= 0 {
		return errors.New("device memory block has more references being unmapped than are currently mapped")
	}

	b.mapReferences--
	if b.mapReferences == 0 {
		b.memory.Unmap()
		b.mapData = nil
	}

	return nil
}

// MappedData returns the current host pointer, or nil when no mapping is outstanding.
func (b *Block) MappedData() unsafe.Pointer { return b.mapData }

func (b *Block) Validate() error {
	if b.size <= 0 {
		return errors.New("block has a nonpositive size")
	}
	if !b.freed && b.memory == nil {
		return errors.New("live block has no device memory")
	}
	if b.mapReferences < 0 {
		return errors.New("block map reference count went negative")
	}
	if b.mapReferences > 0 && b.mapData == nil {
		return errors.New("block has map references but no mapped pointer")
	}
	return nil
}
